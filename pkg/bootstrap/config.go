package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all process configuration. Values come from COACH_* environment
// variables, optionally seeded from a local .env file.
type Config struct {
	Port      int
	LogLevel  string
	SentryDSN string

	Strava StravaConfig
	Gemini GeminiConfig
	Goal   GoalConfig
	Quota  QuotaConfig
	Sync   SyncConfig

	WebhookVerifyToken string
	AdminSecret        string
}

// StravaConfig is the credential triple for the upstream activity API.
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GoalConfig describes the race the athlete is training towards.
type GoalConfig struct {
	Type       string
	Date       time.Time
	TargetTime string
}

type QuotaConfig struct {
	DailyLimit  int
	MinuteLimit int
	AutoReset   bool
}

type SyncConfig struct {
	Interval     time.Duration
	LookbackDays int
	MaxPages     int
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	err := k.Load(env.Provider("COACH_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, "COACH_"), "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Port:      k.Int("port"),
		LogLevel:  k.String("log.level"),
		SentryDSN: k.String("sentry.dsn"),
		Strava: StravaConfig{
			ClientID:     k.String("strava.client.id"),
			ClientSecret: k.String("strava.client.secret"),
			RefreshToken: k.String("strava.refresh.token"),
		},
		Gemini: GeminiConfig{
			APIKey:  k.String("gemini.api.key"),
			Model:   k.String("gemini.model"),
			Timeout: k.Duration("gemini.timeout"),
		},
		Goal: GoalConfig{
			Type:       k.String("goal.type"),
			TargetTime: k.String("goal.target.time"),
		},
		Quota: QuotaConfig{
			DailyLimit:  k.Int("quota.daily.limit"),
			MinuteLimit: k.Int("quota.minute.limit"),
			AutoReset:   k.Bool("quota.auto.reset"),
		},
		Sync: SyncConfig{
			Interval:     k.Duration("sync.interval"),
			LookbackDays: k.Int("sync.lookback.days"),
			MaxPages:     k.Int("sync.max.pages"),
		},
		WebhookVerifyToken: k.String("webhook.verify.token"),
		AdminSecret:        k.String("admin.secret"),
	}

	if goalDate := k.String("goal.date"); goalDate != "" {
		parsed, err := time.Parse("2006-01-02", goalDate)
		if err != nil {
			return nil, fmt.Errorf("parsing COACH_GOAL_DATE %q: %w", goalDate, err)
		}
		cfg.Goal.Date = parsed
	}

	// Apply defaults
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.Timeout == 0 {
		// Deep-reasoning responses are slow; minutes, not seconds.
		cfg.Gemini.Timeout = 5 * time.Minute
	}
	if cfg.Goal.Type == "" {
		cfg.Goal.Type = "Marathon"
	}
	if cfg.Quota.DailyLimit == 0 {
		cfg.Quota.DailyLimit = 1500
	}
	if cfg.Quota.MinuteLimit == 0 {
		cfg.Quota.MinuteLimit = 15
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 6 * time.Hour
	}
	if cfg.Sync.LookbackDays == 0 {
		cfg.Sync.LookbackDays = 14
	}
	if cfg.Sync.MaxPages == 0 {
		cfg.Sync.MaxPages = 8
	}

	return cfg, nil
}

// Validate checks that required credentials are present.
func (c *Config) Validate() error {
	var missing []string
	if c.Strava.ClientID == "" {
		missing = append(missing, "COACH_STRAVA_CLIENT_ID")
	}
	if c.Strava.ClientSecret == "" {
		missing = append(missing, "COACH_STRAVA_CLIENT_SECRET")
	}
	if c.Strava.RefreshToken == "" {
		missing = append(missing, "COACH_STRAVA_REFRESH_TOKEN")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "COACH_GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
