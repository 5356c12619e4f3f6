package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stridecoach/server/pkg/analysis"
	"github.com/stridecoach/server/pkg/bootstrap"
	"github.com/stridecoach/server/pkg/quota"
	"github.com/stridecoach/server/pkg/statestore"
	"github.com/stridecoach/server/pkg/strava"
	"github.com/stridecoach/server/pkg/syncer"
)

func main() {
	svc, err := bootstrap.NewService()
	if err != nil {
		slog.Error("Service init failed", "error", err)
		os.Exit(1)
	}
	cfg := svc.Config

	if err := cfg.Validate(); err != nil {
		svc.Logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	tokens := strava.NewCachedTokenSource(strava.Credentials{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RefreshToken: cfg.Strava.RefreshToken,
	})
	client := strava.NewClient(strava.NewHTTPClient(tokens, 30*time.Second))
	store := statestore.New(client, svc.Logger)
	analyzer := analysis.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout, svc.Logger)

	var resetPolicy quota.ResetPolicy = quota.ManualReset{}
	if cfg.Quota.AutoReset {
		resetPolicy = quota.AutoReset{}
	}

	engine := syncer.NewEngine(client, store, tokens, analyzer, svc.Logger, syncer.Options{
		Goal: analysis.Goal{
			Type:       cfg.Goal.Type,
			Date:       cfg.Goal.Date,
			TargetTime: cfg.Goal.TargetTime,
		},
		Lookback:    time.Duration(cfg.Sync.LookbackDays) * 24 * time.Hour,
		MaxPages:    cfg.Sync.MaxPages,
		ResetPolicy: resetPolicy,
	})

	srv := newServer(svc, engine, store)

	// Scheduled passes run alongside the HTTP server. Overlap with a manual
	// trigger is possible and accepted; the remote blob is last-writer-wins.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go runScheduler(ctx, svc.Logger, engine, cfg.Sync.Interval)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.Logger.Info("Starting server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		svc.Logger.Error("Server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		svc.Logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		svc.Logger.Error("Server shutdown", "error", err)
	}
}

// runScheduler triggers a sync pass every interval until the context ends.
func runScheduler(ctx context.Context, logger *slog.Logger, engine *syncer.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := engine.RunPass(ctx)
			if err != nil {
				logger.Error("Scheduled pass failed", "error", err)
				bootstrap.CaptureException(err, map[string]interface{}{"trigger": "scheduler"})
				continue
			}
			logger.Info("Scheduled pass done",
				"run_id", outcome.RunID,
				"analyzed", outcome.Analyzed,
				"quota_halted", outcome.QuotaHalted,
			)
		}
	}
}
