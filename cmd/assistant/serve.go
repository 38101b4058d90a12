package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/internal/assistant"
	"github.com/capitalize-ai/chat-assistant/internal/capability"
	"github.com/capitalize-ai/chat-assistant/internal/config"
	"github.com/capitalize-ai/chat-assistant/internal/engagement"
	"github.com/capitalize-ai/chat-assistant/internal/handler"
	"github.com/capitalize-ai/chat-assistant/internal/imagegen"
	"github.com/capitalize-ai/chat-assistant/internal/llm"
	"github.com/capitalize-ai/chat-assistant/internal/model"
	natsclient "github.com/capitalize-ai/chat-assistant/internal/nats"
	"github.com/capitalize-ai/chat-assistant/internal/orchestrator"
	"github.com/capitalize-ai/chat-assistant/internal/scheduler"
	"github.com/capitalize-ai/chat-assistant/internal/selector"
	"github.com/capitalize-ai/chat-assistant/internal/sticker"
	"github.com/capitalize-ai/chat-assistant/internal/store"
	"github.com/capitalize-ai/chat-assistant/internal/transport/whatsapp"
	"github.com/capitalize-ai/chat-assistant/pkg/logger"
	"github.com/capitalize-ai/chat-assistant/pkg/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and serve the ops API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, logger.WithFormat(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat assistant", zap.Int("gemini_keys", len(cfg.GeminiAPIKeys)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Storage
	st, err := store.New(store.Options{
		Dir:           cfg.DataDir,
		HistoryCap:    cfg.HistoryCap,
		CacheCapacity: cfg.CacheCapacity,
		Eviction:      store.Eviction(cfg.CacheEviction),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to flush store", zap.Error(err))
		}
	}()

	ignored, err := engagement.LoadIgnoreList(cfg.DataDir)
	if err != nil {
		return err
	}

	// Models and credentials
	models, err := config.LoadModels(cfg.ModelsFile)
	if err != nil {
		return err
	}
	sel, err := selector.New(models.Models, models.Chains, log)
	if err != nil {
		return fmt.Errorf("failed to create selector: %w", err)
	}
	if err := sel.Start(); err != nil {
		return err
	}
	defer sel.Stop()

	primary, helpers, err := credentialPools(cfg)
	if err != nil {
		return err
	}
	orch := orchestrator.New(sel, log)
	helper := orchestrator.NewHelper(helpers, primary, cfg.HelperModels(), log)

	// Optional journal
	var streams *natsclient.StreamManager
	var natsClient *natsclient.Client
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "chat-assistant",
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streams = natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
	}
	var publisher assistant.Publisher
	if streams != nil {
		publisher = streams
	}
	journal := assistant.NewJournal(publisher, log)

	// Transport
	wa := whatsapp.New(whatsapp.Config{DBPath: cfg.WhatsAppDB}, log)

	// Capabilities and scheduled work
	images := imagegen.New(cfg.ImageBaseURL, log,
		imagegen.WithEnhancer(helper),
		imagegen.WithTempDir(filepath.Join(cfg.DataDir, "tmp")),
	)
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "tmp"), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	imageCap := capability.NewGenerateImage(images, wa)

	policy, err := scheduler.ParsePolicy(cfg.SchedulerPolicy)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(cfg.DataDir, policy, scheduler.NewRunner(wa, helper, imageCap, log), log)
	if err != nil {
		return err
	}
	if err := sched.Load(); err != nil {
		return err
	}
	sched.OnFailure(func(ctx context.Context, task model.ScheduledTask, err error) {
		journal.Event(ctx, task.ConversationID, model.EventTypeTaskFailed, err.Error(), map[string]any{
			"task_id": task.ID,
			"type":    string(task.Type),
		})
	})

	stickers := sticker.NewMaker(filepath.Join(cfg.DataDir, "tmp"), log)
	registry, err := capability.NewRegistry(
		capability.NewUpdateMemory(st),
		capability.NewScheduleTask(sched),
		imageCap,
		capability.NewSearch(helper),
		capability.NewPing(),
		capability.NewTagEveryone(wa),
		capability.NewTextSticker(stickers, wa),
		capability.NewImageSticker(stickers, images, wa),
	)
	if err != nil {
		return err
	}
	if err := registry.Register(capability.NewBotInfo(cfg.BotName, version, registry, wa)); err != nil {
		return err
	}
	bridge := capability.NewBridge(registry, st, wa, log)
	bridge.OnError(func(ctx context.Context, conversationID, name string, err error) {
		journal.Event(ctx, conversationID, model.EventTypeFunctionError, err.Error(), map[string]any{"capability": name})
	})

	// Autonomous engagement
	deps := assistant.Deps{
		Store:        st,
		Selector:     sel,
		Orchestrator: orch,
		Pool:         primary,
		Registry:     registry,
		Bridge:       bridge,
		Messenger:    wa,
		Journal:      journal,
		Ignore:       ignored,
	}

	var loop *engagement.Loop
	if cfg.EngagementEnabled {
		loop = engagement.NewLoop(engagement.Config{
			MinInterval: cfg.EngagementMinInterval,
			MaxInterval: cfg.EngagementMaxInterval,
			StartHour:   cfg.EngagementStartHour,
			EndHour:     cfg.EngagementEndHour,
		}, ignored, st, helper, wa, log)
		loop.OnSent(func(ctx context.Context, id string, d engagement.Decision) {
			journal.Event(ctx, id, model.EventTypeEngagement, d.Reason, nil)
		})
		deps.Monitor = loop
	}
	if cfg.ReactionEnabled {
		deps.Reactor = engagement.NewReactor(cfg.ReactionCooldown, st, helper, wa, log)
	}

	svc, err := assistant.New(assistant.Config{
		Persona:        cfg.Persona,
		ContextLimit:   cfg.HistoryContextLimit,
		UserRateLimit:  cfg.UserRateLimit,
		UserRateWindow: cfg.UserRateWindow,
		Whitelist:      cfg.UserRateWhitelist,
	}, deps, log)
	if err != nil {
		return err
	}
	wa.SetHandler(svc)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if loop != nil {
		loop.Start()
		defer loop.Stop()
	}

	if cfg.WhatsAppEnabled {
		if err := wa.Connect(ctx); err != nil {
			return fmt.Errorf("failed to start whatsapp: %w", err)
		}
		defer wa.Disconnect()
	} else {
		log.Warn("whatsapp transport disabled, outbound messages will fail")
	}
	defer svc.Stop()

	// Ops API
	checks := []handler.ReadinessCheck{{Name: "whatsapp", Ready: wa.IsConnected}}
	routes := handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Conversations:     handler.NewConversationHandler(st, log),
		Tasks:             handler.NewTaskHandler(sched, log),
		Ignored:           handler.NewIgnoreHandler(ignored, log),
		Models:            handler.NewModelHandler(sel),
	}
	if streams != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "nats", Ready: natsClient.IsConnected})
		routes.Messages = handler.NewMessageHandler(streams, log)
		routes.Stream = handler.NewStreamHandler(streams, log)
	}
	routes.Health = handler.NewHealthHandler(checks...)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routes, log),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ops api listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("assistant stopped")
	return nil
}

// credentialPools builds the primary Gemini pool and the helper pool of the
// optional OpenAI and Anthropic keys.
func credentialPools(cfg *config.Config) (primary, helpers *llm.CredentialPool, err error) {
	creds := make([]llm.Credential, 0, len(cfg.GeminiAPIKeys))
	for i, key := range cfg.GeminiAPIKeys {
		c, err := llm.NewClient(llm.ProviderGemini, key, cfg.GeminiBaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gemini client %d: %w", i+1, err)
		}
		creds = append(creds, llm.Credential{Name: "gemini-key-" + strconv.Itoa(i+1), Client: c})
	}

	var extra []llm.Credential
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey, "")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		extra = append(extra, llm.Credential{Name: "openai", Client: c})
	}
	if cfg.AnthropicAPIKey != "" {
		c, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey, "")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		extra = append(extra, llm.Credential{Name: "anthropic", Client: c})
	}
	return llm.NewCredentialPool(creds...), llm.NewCredentialPool(extra...), nil
}
