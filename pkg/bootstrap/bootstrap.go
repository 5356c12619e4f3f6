// Package bootstrap wires process-level concerns: configuration, structured
// logging and error tracking. Long-lived services hold a *Service and pass it
// down to the components that need it.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/stridecoach/server/pkg/logbuf"
)

// Service holds initialized process-wide dependencies.
type Service struct {
	Config  *Config
	Logger  *slog.Logger
	LogRing *logbuf.Ring
}

// NewService loads configuration and initializes logging and Sentry.
func NewService() (*Service, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ring := logbuf.NewRing(logbuf.DefaultCapacity)
	logger := NewLogger("coach-server", cfg.LogLevel, ring)
	slog.SetDefault(logger)

	if err := initSentry(cfg, logger); err != nil {
		return nil, err
	}

	logger.Info("Service initialized", "goal_type", cfg.Goal.Type, "sync_interval", cfg.Sync.Interval.String())

	return &Service{
		Config:  cfg,
		Logger:  logger,
		LogRing: ring,
	}, nil
}

// NewLogger creates a JSON logger at the given level, teed into the ring
// buffer so recent lines stay queryable over the admin API.
func NewLogger(serviceName, levelStr string, ring *logbuf.Ring) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if ring != nil {
		handler = logbuf.NewHandler(handler, ring)
	}
	return slog.New(handler).With("service", serviceName)
}

// initSentry initializes Sentry when a DSN is configured.
// Without a DSN, error tracking is disabled and the process runs normally.
func initSentry(cfg *Config, logger *slog.Logger) error {
	if cfg.SentryDSN == "" {
		logger.Warn("Sentry DSN not configured - error tracking disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: os.Getenv("ENVIRONMENT"),
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Filter out sensitive data
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "X-Admin-Secret")
			}
			return event
		},
	})
	if err != nil {
		logger.Error("Failed to initialize Sentry", "error", err)
		return fmt.Errorf("sentry init: %w", err)
	}

	logger.Info("Sentry initialized")
	return nil
}

// CaptureException reports an error to Sentry with optional key/value context.
// No-op when Sentry is not initialized.
func CaptureException(err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range context {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}
