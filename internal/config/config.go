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

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
	Search   SearchConfig   `yaml:"search"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Cursor   CursorConfig   `yaml:"cursor"`
	Trend    TrendConfig    `yaml:"trend"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the collection interval of the daemon.
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
}

// ParseInterval returns the interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	return parseDuration(s.Interval, 6*time.Hour)
}

// TaxonomyConfig picks the symptom taxonomy. File wins over Preset.
type TaxonomyConfig struct {
	Preset string `yaml:"preset"`
	File   string `yaml:"file"`
}

// SearchConfig selects and configures the search backend.
type SearchConfig struct {
	Provider string       `yaml:"provider"` // "x" or "nitter"
	Timeout  string       `yaml:"timeout"`
	X        XConfig      `yaml:"x"`
	Nitter   NitterConfig `yaml:"nitter"`
}

// ParseTimeout returns the per-call HTTP timeout.
func (s SearchConfig) ParseTimeout() time.Duration {
	return parseDuration(s.Timeout, 30*time.Second)
}

// XConfig for the X API v2 recent search endpoint.
type XConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BaseURL     string `yaml:"base_url"`
}

// NitterConfig for a Nitter instance's search RSS.
type NitterConfig struct {
	URL string `yaml:"url"`
}

// FetchConfig bounds each collection pass.
type FetchConfig struct {
	Mode       string `yaml:"mode"`       // "incremental" or "full"
	QueryMode  string `yaml:"query_mode"` // "strict" or "broad"
	MaxResults int    `yaml:"max_results"`
	PageSize   int    `yaml:"page_size"`
	Windows    int    `yaml:"windows"`
	Lookback   string `yaml:"lookback"`
	Pacing     string `yaml:"pacing"`
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
	MaxDelay   string `yaml:"max_delay"`
}

// ParseLookback returns the windowed span, zero when windowing is off.
func (f FetchConfig) ParseLookback() time.Duration {
	return parseDuration(f.Lookback, 0)
}

// ParsePacing returns the minimum gap between backend calls.
func (f FetchConfig) ParsePacing() time.Duration {
	return parseDuration(f.Pacing, 3*time.Second)
}

// ParseBaseDelay returns the first retry backoff.
func (f FetchConfig) ParseBaseDelay() time.Duration {
	return parseDuration(f.BaseDelay, 5*time.Second)
}

// ParseMaxDelay returns the backoff ceiling.
func (f FetchConfig) ParseMaxDelay() time.Duration {
	return parseDuration(f.MaxDelay, time.Minute)
}

// CursorConfig selects where stream cursors live.
type CursorConfig struct {
	Backend string      `yaml:"backend"` // "file" or "redis"
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig for the Redis cursor backend.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
}

// TrendConfig overrides the taxonomy's trend thresholds when both are set.
type TrendConfig struct {
	Rising int `yaml:"rising"`
	Flat   int `yaml:"flat"`
}

// AlertsConfig configures report destinations.
type AlertsConfig struct {
	TopN    int           `yaml:"top_n"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
	Kafka   KafkaConfig   `yaml:"kafka"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// KafkaConfig for publishing run reports to a topic.
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ExportConfig controls CSV exports written after each scheduled run.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, falling back to Asia/Tokyo and then UTC.
func (e ExportConfig) Location() *time.Location {
	name := e.Timezone
	if name == "" {
		name = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./symptomradar.db"},
		Schedule: ScheduleConfig{Interval: "6h"},
		Taxonomy: TaxonomyConfig{Preset: "cold"},
		Search: SearchConfig{
			Provider: "x",
			Timeout:  "30s",
			X:        XConfig{BaseURL: "https://api.twitter.com"},
			Nitter:   NitterConfig{URL: "https://nitter.net"},
		},
		Fetch: FetchConfig{
			Mode:       "incremental",
			QueryMode:  "strict",
			MaxResults: 100,
			PageSize:   100,
			Pacing:     "3s",
			MaxRetries: 3,
			BaseDelay:  "5s",
			MaxDelay:   "1m",
		},
		Cursor: CursorConfig{Backend: "file", Dir: "./cursors"},
		Alerts: AlertsConfig{TopN: 5, Kafka: KafkaConfig{Topic: "symptomradar.reports", ClientID: "symptomradar"}},
		Server: ServerConfig{Port: 8080},
		Export: ExportConfig{Timezone: "Asia/Tokyo"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads .env files, then the YAML file, then applies env var overrides.
func Load(path string) (*Config, error) {
	LoadEnv(".env")
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads the given dotenv files, skipping ones that do not exist.
// Values in the files override the process environment.
func LoadEnv(files ...string) []string {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Overload(f); err != nil {
			continue
		}
		loaded = append(loaded, f)
	}
	return loaded
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Search.Provider {
	case "x", "nitter":
	default:
		return fmt.Errorf("config: unknown search provider %q", c.Search.Provider)
	}
	switch c.Cursor.Backend {
	case "file":
		if c.Cursor.Dir == "" {
			return fmt.Errorf("config: cursor.dir is required for the file backend")
		}
	case "redis":
		if len(c.Cursor.Redis.Addrs) == 0 {
			return fmt.Errorf("config: cursor.redis.addrs is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cursor backend %q", c.Cursor.Backend)
	}
	if c.Fetch.Windows < 0 {
		return fmt.Errorf("config: fetch.windows must not be negative")
	}
	if c.Fetch.Windows > 0 && c.Fetch.ParseLookback() <= 0 {
		return fmt.Errorf("config: fetch.lookback is required when fetch.windows is set")
	}
	if c.Search.Provider == "x" && c.Fetch.ParseLookback() > 7*24*time.Hour {
		return fmt.Errorf("config: fetch.lookback %s exceeds the 7 day reach of x recent search", c.Fetch.Lookback)
	}
	if c.Alerts.Kafka.Enabled && len(c.Alerts.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: alerts.kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYMPTOMRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SYMPTOMRADAR_CURSOR_DIR"); v != "" {
		cfg.Cursor.Dir = v
	}
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		cfg.Search.X.BearerToken = v
	}
	if v := os.Getenv("NITTER_URL"); v != "" {
		cfg.Search.Nitter.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cursor.Redis.Addrs = splitList(v)
		cfg.Cursor.Backend = "redis"
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cursor.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Alerts.Kafka.Brokers = splitList(v)
		cfg.Alerts.Kafka.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYMPTOMRADAR_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Fetch.MaxResults = n
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
