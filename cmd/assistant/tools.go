package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/chat-assistant/internal/config"
	"github.com/capitalize-ai/chat-assistant/internal/middleware"
)

func newModelsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the effective model descriptors and fallback chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := config.Parse()
				if err != nil {
					return err
				}
				file = cfg.ModelsFile
			}
			models, err := config.LoadModels(file)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(models)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "models file (defaults to MODELS_FILE)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		write   bool
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			var scopes []string
			if write {
				scopes = append(scopes, middleware.ScopeWrite)
			}
			tok, err := middleware.IssueToken(cfg.JWTSecret, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	cmd.Flags().BoolVar(&write, "write", false, "grant "+middleware.ScopeWrite)
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	return cmd
}
