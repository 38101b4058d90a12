// Package main is the entry point for the chat assistant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "assistant: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assistant",
		Short: "WhatsApp chat assistant",
		Long: `Chat assistant that answers WhatsApp conversations through a pool of LLM
credentials, runs scheduled tasks and joins group chats on its own.

Examples:
  assistant serve
  assistant models
  assistant token --subject ops --write`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(newServeCmd(), newModelsCmd(), newTokenCmd())
	return root
}
