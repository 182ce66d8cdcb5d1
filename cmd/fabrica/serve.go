package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/fabrica/config"
	"github.com/c360studio/fabrica/generate"
	"github.com/c360studio/fabrica/llm"
	"github.com/c360studio/fabrica/refdocs"
	"github.com/c360studio/fabrica/server"
	"github.com/c360studio/fabrica/webref"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming generation server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	logger := slog.Default()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Server.APIKeys) == 0 {
		logger.Warn("No API keys configured; every request will be rejected with 401")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient := llm.NewClient(llm.Config{
		Endpoint:    cfg.Model.Endpoint,
		Model:       cfg.Model.Default,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	}, llm.WithLogger(logger))

	provider, cleanup, err := buildContextProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	planner := generate.NewLLMPlanner(llmClient,
		generate.WithPlannerLogger(logger),
		generate.WithPlannerContext(provider),
	)
	builder := generate.NewLLMBuilder(llmClient, generate.WithBuilderLogger(logger))

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(server.NewMetrics()),
	}
	if cfg.NATS.URL != "" {
		auditor, err := server.NewAuditor(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect audit mirror: %w", err)
		}
		defer auditor.Close()
		opts = append(opts, server.WithAuditor(auditor))
		logger.Info("Frame audit mirror enabled", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	handler := server.NewHandler(cfg.Server, planner, builder, opts...)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildContextProvider assembles planner context from the local reference
// library and fetched reference pages. Both sources are optional.
func buildContextProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generate.ContextProvider, func(), error) {
	var (
		library  *refdocs.Library
		enricher *webref.Enricher
	)

	cleanup := func() {
		if library != nil {
			library.Close()
		}
	}

	if cfg.Refdocs.Dir != "" {
		var err error
		library, err = refdocs.NewLibrary(cfg.Refdocs.Dir,
			refdocs.WithLibraryLogger(logger),
			refdocs.WithDebounce(cfg.Refdocs.DebounceDelay),
		)
		if err != nil {
			return nil, cleanup, fmt.Errorf("load reference library: %w", err)
		}
		logger.Info("Reference library loaded", "dir", cfg.Refdocs.Dir, "documents", library.Len())

		if cfg.Refdocs.Watch {
			if err := library.Watch(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("watch reference library: %w", err)
			}
		}
	}

	if len(cfg.Refdocs.URLs) > 0 {
		var fetcherOpts []webref.FetcherOption
		if cfg.Refdocs.AllowPrivateURLs {
			fetcherOpts = append(fetcherOpts, webref.WithAllowPrivateHosts())
		}
		enricher = webref.NewEnricher(cfg.Refdocs.URLs,
			webref.WithEnricherLogger(logger),
			webref.WithFetcher(webref.NewFetcher(30*time.Second, 2<<20, fetcherOpts...)),
		)
	}

	provider := func() string {
		var parts []string
		if library != nil {
			if s := library.Snapshot(); s != "" {
				parts = append(parts, s)
			}
		}
		if enricher != nil {
			if s := enricher.Context(ctx); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	return provider, cleanup, nil
}
