package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/config"
	"github.com/ashita-ai/tasklane/internal/contextpack"
	"github.com/ashita-ai/tasklane/internal/dispatch"
	"github.com/ashita-ai/tasklane/internal/embedding"
	"github.com/ashita-ai/tasklane/internal/executor"
	"github.com/ashita-ai/tasklane/internal/llm"
	"github.com/ashita-ai/tasklane/internal/orchestrator"
	"github.com/ashita-ai/tasklane/internal/planner"
	"github.com/ashita-ai/tasklane/internal/policy"
	"github.com/ashita-ai/tasklane/internal/preferences"
	"github.com/ashita-ai/tasklane/internal/ratelimit"
	"github.com/ashita-ai/tasklane/internal/registry"
	"github.com/ashita-ai/tasklane/internal/server"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/skills"
	"github.com/ashita-ai/tasklane/internal/slack"
	"github.com/ashita-ai/tasklane/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack webhook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("tasklane starting", "version", version, "port", cfg.Port, "mode", cfg.OrchestratorMode)
	if !cfg.SlackConfigured() {
		logger.Warn("slack credentials missing; webhooks will be rejected and replies will fail")
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	mode, err := orchestrator.ParseMode(cfg.OrchestratorMode)
	if err != nil {
		return err
	}

	reg := skills.Default()
	slackClient := slack.NewClient(cfg.SlackBotToken, logger)
	clickupClient := clickup.NewClient(cfg.ClickUpAPIToken, cfg.ClickUpTeamID, logger)

	deps := orchestrator.Deps{
		Store:       db,
		Sessions:    session.NewService(db),
		Preferences: preferences.NewService(db, logger),
		Gate:        policy.New(reg),
		Executor:    executor.New(logger),
		Slack:       slackClient,
		Tasks:       clickupClient,
		Registry:    registry.NewSyncer(clickupClient, db, logger),
		Logger:      logger,
	}
	if mode != orchestrator.ModeDeterministic {
		client, err := newLLMClient(cfg)
		if err != nil {
			return err
		}
		embedder, err := embedding.New(cfg.EmbeddingProvider, cfg.OpenAIAPIKey, cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
		if embedder == nil {
			logger.Info("embedding provider: noop (knowledge retrieval uses keywords only)")
		}
		deps.Planner = planner.New(client, reg, logger)
		deps.ClientPacks = contextpack.NewClientPackBuilder(db, logger)
		deps.Knowledge = contextpack.NewKnowledgeRetriever(db, embedder, logger)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Mode:               mode,
		RetryMaxAttempts:   cfg.RetryMaxAttempts,
		RetryBaseBackoff:   cfg.RetryBaseBackoff,
		DuplicateWindow:    cfg.DuplicateWindow,
		ContextTokenBudget: cfg.ContextTokenBudget,
		KBTokenBudget:      cfg.KBTokenBudget,
		BufferMaxExchanges: cfg.BufferMaxExchanges,
		BufferMaxTokens:    cfg.BufferMaxTokens,
	}, deps)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	// The dispatcher outlives the request context so in-flight turns can
	// finish during shutdown.
	dispatcher := dispatch.New(logger, cfg.DispatchWorkers, cfg.DispatchQueueSize, cfg.DispatchJobTimeout)
	dispatcher.Start(context.WithoutCancel(ctx))

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.UserMessagesPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.UserMessagesPerMinute)/60, cfg.UserMessageBurst)
		logger.Info("per-user throttle enabled", "per_minute", cfg.UserMessagesPerMinute, "burst", cfg.UserMessageBurst)
	}
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.Config{
		Orchestrator:        orch,
		Dispatcher:          dispatcher,
		DB:                  db,
		Limiter:             limiter,
		SigningSecret:       cfg.SlackSigningSecret,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Stop accepting webhooks first, then let queued turns finish.
	logger.Info("tasklane shutting down")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	dispatcher.Drain(drainCtx)
	drainCancel()

	logger.Info("tasklane stopped")
	return nil
}

func newLLMClient(cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMModel), nil
	case "ollama":
		return llm.NewOllamaClient(cfg.OllamaURL, cfg.LLMModel), nil
	case "noop":
		return llm.NoopClient{}, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.LLMProvider)
	}
}
