// Package main is the entry point for Confab, the discussion orchestration
// service. The server exposes a WebSocket gateway for clients and talks to
// external AI workers over the event bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/confab/confab/internal/common/config"
	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/repository"
	"github.com/confab/confab/internal/events"
	gateway "github.com/confab/confab/internal/gateway/websocket"
	"github.com/confab/confab/internal/orchestrator"
	ws "github.com/confab/confab/pkg/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting confab",
		zap.String("database", cfg.Database.Driver),
		zap.Bool("nats", cfg.NATS.URL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer repo.Close()

	dispatcher := ws.NewDispatcher()
	hub := gateway.NewHub(dispatcher, log)

	svc := orchestrator.NewService(cfg.Discussion, repo, eventBus, hub, log)
	if err := svc.Start(ctx); err != nil {
		log.Fatal("failed to start orchestrator", zap.Error(err))
	}
	defer svc.Stop()

	gateway.NewDiscussionHandlers(svc, log).RegisterAll(dispatcher)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewHandler(hub, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("confab stopped")
}

// openRepository selects the storage backend from configuration.
func openRepository(cfg *config.Config) (repository.Repository, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return repository.NewSQLiteRepository(cfg.Database.Path)
	default:
		return repository.NewMemoryRepository(), nil
	}
}
