// Package config loads skillbox configuration from viper (config file,
// SKILLBOX_* environment variables and bound CLI flags) into typed structs.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillbox/pkg/db"
)

// EnvPrefix is the prefix for all environment overrides, e.g. SKILLBOX_LOG_LEVEL.
const EnvPrefix = "SKILLBOX"

// Config is the complete skillbox configuration.
type Config struct {
	BasePath  string `mapstructure:"base_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Notion    NotionConfig    `mapstructure:"notion"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Email     EmailConfig     `mapstructure:"email"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	Telnyx    TelnyxConfig    `mapstructure:"telnyx"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Server    ServerConfig    `mapstructure:"server"`
	Classify  ClassifyConfig  `mapstructure:"classify"`

	Profiles map[string]map[string]any `mapstructure:"profiles"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// RateLimitConfig selects the limiter backend and its default window.
type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
}

// RetryConfig mirrors the retry knobs shared by every REST client.
type RetryConfig struct {
	Attempts     int           `mapstructure:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	BackoffType  string        `mapstructure:"backoff_type"`
}

// HTTPConfig holds outbound HTTP defaults.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// OpenAIConfig configures the image generation skill.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// NotionConfig configures the Notion client.
type NotionConfig struct {
	Token   string `mapstructure:"token"`
	Version string `mapstructure:"version"`
	BaseURL string `mapstructure:"base_url"`
}

// GitHubConfig configures the GitHub client.
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	FromName string `mapstructure:"from_name"`
}

// VoiceConfig selects the voice call provider.
type VoiceConfig struct {
	Provider   string `mapstructure:"provider"`
	FromNumber string `mapstructure:"from_number"`
}

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	BaseURL    string `mapstructure:"base_url"`
}

// TelnyxConfig holds Telnyx credentials.
type TelnyxConfig struct {
	APIKey       string `mapstructure:"api_key"`
	ConnectionID string `mapstructure:"connection_id"`
	BaseURL      string `mapstructure:"base_url"`
}

// ScrapeConfig configures the scraper.
type ScrapeConfig struct {
	AllowedDomainsFile string `mapstructure:"allowed_domains_file"`
}

// ServerConfig configures `skillbox serve`.
type ServerConfig struct {
	Addr  string  `mapstructure:"addr"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ClassifyConfig holds user allow/deny globs for the command classifier.
type ClassifyConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("tracing.sampler", "always")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("ratelimit.backend", "sqlite")
	v.SetDefault("ratelimit.limit", 60)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.retry.attempts", 3)
	v.SetDefault("http.retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("http.retry.max_delay", 10*time.Second)
	v.SetDefault("http.retry.backoff_type", "exponential")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 465)
	v.SetDefault("email.from_name", "Skillbox Agent")
	v.SetDefault("voice.provider", "mock")
	v.SetDefault("voice.from_number", "+15555550000")
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.rps", 10.0)
	v.SetDefault("server.burst", 20)
}

// Init wires env overrides and config file search paths into v.
func Init(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.skillbox")
	v.AddConfigPath(".")

	SetDefaults(v)
}

// Load decodes v into a Config and fills derived defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if cfg.BasePath == "" {
		base, err := db.BasePath()
		if err != nil {
			return nil, err
		}
		cfg.BasePath = base
	}
	cfg.BasePath = expandHome(cfg.BasePath)

	// secrets conventionally come from well known env vars too
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.Notion.Token == "" {
		cfg.Notion.Token = os.Getenv("NOTION_TOKEN")
	}

	return cfg, nil
}

// ApplyProfile merges the named profile over cfg. Zero values in the profile
// do not overwrite existing settings.
func (c *Config) ApplyProfile(name string) error {
	if name == "" || name == "default" {
		return nil
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return errors.Errorf("profile %q not found", name)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		ZeroFields:       false,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}

	if err := decoder.Decode(profile); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}

	return nil
}

// DBPath is the location of the shared SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.BasePath, "storage.db")
}

// AuditDir is where SOP runs mirror their audit log as JSONL.
func (c *Config) AuditDir() string {
	return filepath.Join(c.BasePath, "audit")
}

// SOPDir holds SOP definition files.
func (c *Config) SOPDir() string {
	return filepath.Join(c.BasePath, "sops")
}

// VaultPath is the age-encrypted secret vault.
func (c *Config) VaultPath() string {
	return filepath.Join(c.BasePath, "vault.age")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
