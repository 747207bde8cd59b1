package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TwitchClientID       string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret   string `env:"TWITCH_CLIENT_SECRET"`
	TwitchBotUserID      string `env:"TWITCH_BOT_USER_ID"`
	TwitchBotAccessToken string `env:"TWITCH_BOT_ACCESS_TOKEN"`
	WebhookCallbackURL   string `env:"WEBHOOK_CALLBACK_URL"`
	WebhookSecret        string `env:"WEBHOOK_SECRET"`

	RedisURL   string `env:"REDIS_URL"`
	AdminToken string `env:"ADMIN_TOKEN"`

	CommandKey     string `env:"COMMAND_KEY"`
	AllowAll       bool   `env:"ALLOW_ALL" default:"false"`
	ACLUsers       string `env:"ACL_USERS"`
	GlobalCommands string `env:"GLOBAL_COMMANDS"`

	PostTimeout time.Duration `env:"POST_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// requiredVars is ordered so the first missing variable is reported deterministically.
var requiredVars = []struct {
	name  string
	value func(*Config) string
}{
	{"TWITCH_CLIENT_ID", func(c *Config) string { return c.TwitchClientID }},
	{"TWITCH_CLIENT_SECRET", func(c *Config) string { return c.TwitchClientSecret }},
	{"TWITCH_BOT_USER_ID", func(c *Config) string { return c.TwitchBotUserID }},
	{"TWITCH_BOT_ACCESS_TOKEN", func(c *Config) string { return c.TwitchBotAccessToken }},
	{"WEBHOOK_CALLBACK_URL", func(c *Config) string { return c.WebhookCallbackURL }},
	{"WEBHOOK_SECRET", func(c *Config) string { return c.WebhookSecret }},
}

func validate(cfg *Config) error {
	for _, v := range requiredVars {
		if v.value(cfg) == "" {
			return fmt.Errorf("%s is required", v.name)
		}
	}

	if len(cfg.WebhookSecret) < 10 || len(cfg.WebhookSecret) > 100 {
		return errors.New("WEBHOOK_SECRET must be between 10 and 100 characters")
	}

	callback, err := url.Parse(cfg.WebhookCallbackURL)
	if err != nil || callback.Host == "" {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL must be an absolute URL, got %q", cfg.WebhookCallbackURL)
	}
	if cfg.AppEnv == "production" && callback.Scheme != "https" {
		return fmt.Errorf("WEBHOOK_CALLBACK_URL uses scheme %s which is not allowed in production", callback.Scheme)
	}

	if cfg.AdminToken != "" && len(cfg.AdminToken) < 16 {
		return errors.New("ADMIN_TOKEN must be at least 16 characters")
	}

	if cfg.PostTimeout <= 0 {
		return fmt.Errorf("POST_TIMEOUT must be positive, got %s", cfg.PostTimeout)
	}

	return nil
}

// AdminEnabled reports whether the admin API should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminToken != ""
}
