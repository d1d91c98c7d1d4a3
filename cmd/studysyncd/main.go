package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/studysync/internal/app"
	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/pkg/envutil"
	"github.com/yungbote/studysync/internal/pkg/logger"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := app.LoadConfig(log)
	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("Failed to init app", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workspaces listed in the environment are opened eagerly so their read models
	// stay warm. STUDYSYNC_LEGACY_CHAT_SCOPE adds a raw chat scope to each.
	legacy := envutil.String("STUDYSYNC_LEGACY_CHAT_SCOPE", "")
	for _, id := range envutil.List("STUDYSYNC_WORKSPACES") {
		var opts []channel.ConnectOption
		if legacy != "" {
			opts = append(opts, channel.WithLegacyScope(legacy))
		}
		if _, err := a.OpenWorkspace(ctx, id, opts...); err != nil {
			log.Warn("Failed to open workspace", "workspace", id, "error", err)
			continue
		}
		log.Info("Workspace opened", "workspace", id)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(cfg.HTTPAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(shutdownCtx)
}
