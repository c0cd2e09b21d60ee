package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/internal/app"
	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
	"github.com/balaji119/local-mail-forwarder-graph/internal/logger"
)

func main() {
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(baseHandler)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, slog.Default()); err != nil && err != context.Canceled {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var pub queue.EventPublisher
	if deps.Producer != nil {
		pub = deps.Producer
	}

	a, err := app.New(cfg, deps.DB, pub, log)
	if err != nil {
		return err
	}

	go func() {
		if err := a.Dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("dispatcher stopped", "error", err)
			cancel()
		}
	}()

	if a.SMTPServer != nil {
		go func() {
			log.Info("smtp listener starting", "addr", a.SMTPServer.Addr)
			if err := a.SMTPServer.ListenAndServe(); err != nil && ctx.Err() == nil {
				log.Error("smtp listener stopped", "error", err)
				cancel()
			}
		}()
		go func() {
			<-ctx.Done()
			if err := a.SMTPServer.Close(); err != nil {
				log.Warn("smtp shutdown failed", "error", err)
			}
		}()
	}

	return a.Run(ctx)
}
