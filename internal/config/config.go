// Package config loads the application configuration from a YAML file with
// environment variable overrides. Configuration is loaded once into an
// immutable struct and passed to components via constructors; there is no
// implicit global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lead engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Queues    QueuesConfig    `yaml:"queues"`
	Moco      MocoConfig      `yaml:"moco"`
	Slack     SlackConfig     `yaml:"slack"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Features  FeatureFlags    `yaml:"features"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Routing   RoutingConfig   `yaml:"routing"`
	Rules     RulesConfig     `yaml:"rules"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	NodeEnv  string `yaml:"node_env"` // development | production | test
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig holds the relational store settings. The pool is sized to
// 2 × total worker concurrency by default.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the queue store settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds secrets for the API surface. APIKeys maps per-source
// webhook secrets: each entry is "secret:source".
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	WebhookSecret string   `yaml:"webhook_secret"`
	APIKeys       []string `yaml:"api_keys"`
}

// SourceSecrets parses APIKeys into a source → secret map. Sources without
// a dedicated key fall back to WebhookSecret.
func (a AuthConfig) SourceSecrets() map[string]string {
	out := make(map[string]string, len(a.APIKeys))
	for _, pair := range a.APIKeys {
		key, source, ok := strings.Cut(pair, ":")
		if !ok || key == "" || source == "" {
			continue
		}
		out[source] = key
	}
	return out
}

// QueueConfig holds per-queue worker settings.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
	RatePerSec  int `yaml:"rate_per_sec"`
	TimeoutSecs int `yaml:"timeout_secs"`
}

// Timeout returns the per-job deadline.
func (q QueueConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSecs) * time.Second
}

// QueuesConfig holds settings for the five named queues.
type QueuesConfig struct {
	Events        QueueConfig `yaml:"events"`
	Routing       QueueConfig `yaml:"routing"`
	Sync          QueueConfig `yaml:"sync"`
	Scheduled     QueueConfig `yaml:"scheduled"`
	Notifications QueueConfig `yaml:"notifications"`
}

// TotalConcurrency sums all worker pool sizes.
func (q QueuesConfig) TotalConcurrency() int {
	return q.Events.Concurrency + q.Routing.Concurrency + q.Sync.Concurrency +
		q.Scheduled.Concurrency + q.Notifications.Concurrency
}

// MocoConfig holds the finance system settings. Outbound only.
type MocoConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	Subdomain string `yaml:"subdomain"`
}

// SlackConfig holds the chat system settings.
type SlackConfig struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"webhook_url"`
	BotToken        string `yaml:"bot_token"`
	HotLeadsChannel string `yaml:"hot_leads_channel"`
	RoutingChannel  string `yaml:"routing_channel"`
	DigestChannel   string `yaml:"digest_channel"`
}

// SMTPConfig holds outbound mail transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// FeatureFlags toggle optional subsystems.
type FeatureFlags struct {
	MocoSync    bool `yaml:"moco_sync"`
	SlackAlerts bool `yaml:"slack_alerts"`
	ScoreDecay  bool `yaml:"score_decay"`
}

// RateLimitConfig holds the ingest rate limit.
type RateLimitConfig struct {
	Max          int `yaml:"max"`
	TimeWindowMS int `yaml:"time_window_ms"`
}

// Window returns the rate-limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.TimeWindowMS) * time.Millisecond
}

// SchedulerConfig holds the daily job times (local HH:MM).
type SchedulerConfig struct {
	DecayAt        string `yaml:"decay_at"`
	DigestAt       string `yaml:"digest_at"`
	TimeInStageAt  string `yaml:"time_in_stage_at"`
	GDPRSweepAt    string `yaml:"gdpr_sweep_at"`
	PartitionAhead int    `yaml:"partition_ahead_months"`
}

// RoutingConfig holds router thresholds.
type RoutingConfig struct {
	MinScore         int `yaml:"min_score"`
	MinConfidence    int `yaml:"min_confidence"`
	IntentMargin     int `yaml:"intent_margin"`
	StuckInPoolDays  int `yaml:"stuck_in_pool_days"`
}

// RulesConfig holds the in-process rule cache settings.
type RulesConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the rule cache TTL.
func (r RulesConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.NodeEnv == "" {
		cfg.Server.NodeEnv = "development"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}

	// Queue defaults per the concurrency model.
	if cfg.Queues.Events.Concurrency == 0 {
		cfg.Queues.Events = QueueConfig{Concurrency: 10, RatePerSec: 100, TimeoutSecs: 30}
	}
	if cfg.Queues.Routing.Concurrency == 0 {
		cfg.Queues.Routing = QueueConfig{Concurrency: 5, RatePerSec: 50, TimeoutSecs: 15}
	}
	if cfg.Queues.Sync.Concurrency == 0 {
		cfg.Queues.Sync = QueueConfig{Concurrency: 3, RatePerSec: 10, TimeoutSecs: 60}
	}
	if cfg.Queues.Scheduled.Concurrency == 0 {
		cfg.Queues.Scheduled = QueueConfig{Concurrency: 1, TimeoutSecs: 600}
	}
	if cfg.Queues.Notifications.Concurrency == 0 {
		cfg.Queues.Notifications = QueueConfig{Concurrency: 5, TimeoutSecs: 30}
	}

	// Pool sized to 2 × total worker concurrency.
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 2 * cfg.Queues.TotalConcurrency()
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}

	if cfg.Slack.HotLeadsChannel == "" {
		cfg.Slack.HotLeadsChannel = "#hot-leads"
	}
	if cfg.Slack.RoutingChannel == "" {
		cfg.Slack.RoutingChannel = "#lead-routing"
	}
	if cfg.Slack.DigestChannel == "" {
		cfg.Slack.DigestChannel = "#marketing"
	}

	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = 100
	}
	if cfg.RateLimit.TimeWindowMS == 0 {
		cfg.RateLimit.TimeWindowMS = 60000
	}

	if cfg.Scheduler.DecayAt == "" {
		cfg.Scheduler.DecayAt = "03:00"
	}
	if cfg.Scheduler.DigestAt == "" {
		cfg.Scheduler.DigestAt = "08:30"
	}
	if cfg.Scheduler.TimeInStageAt == "" {
		cfg.Scheduler.TimeInStageAt = "04:00"
	}
	if cfg.Scheduler.GDPRSweepAt == "" {
		cfg.Scheduler.GDPRSweepAt = "02:00"
	}
	if cfg.Scheduler.PartitionAhead == 0 {
		cfg.Scheduler.PartitionAhead = 1
	}

	if cfg.Routing.MinScore == 0 {
		cfg.Routing.MinScore = 40
	}
	if cfg.Routing.MinConfidence == 0 {
		cfg.Routing.MinConfidence = 60
	}
	if cfg.Routing.IntentMargin == 0 {
		cfg.Routing.IntentMargin = 15
	}
	if cfg.Routing.StuckInPoolDays == 0 {
		cfg.Routing.StuckInPoolDays = 14
	}

	if cfg.Rules.CacheTTLSeconds == 0 {
		cfg.Rules.CacheTTLSeconds = 60
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Server.NodeEnv = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Auth.WebhookSecret = v
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.Auth.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("MOCO_API_KEY"); v != "" {
		cfg.Moco.APIKey = v
		cfg.Moco.Enabled = true
	}
	if v := os.Getenv("MOCO_SUBDOMAIN"); v != "" {
		cfg.Moco.Subdomain = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
		cfg.Slack.Enabled = true
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces secret length constraints. Test environments are
// exempt so fixtures can use short placeholder secrets.
func (c *Config) Validate() error {
	if c.Server.NodeEnv == "test" {
		return nil
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if len(c.Auth.WebhookSecret) < 16 {
		return fmt.Errorf("webhook_secret must be at least 16 characters (got %d)", len(c.Auth.WebhookSecret))
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}
	return nil
}
