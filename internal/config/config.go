// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// BudgetConfig bounds the outgoing conversation window.
type BudgetConfig struct {
	MaxTokens   int  `yaml:"max_tokens"`   // ceiling, system message included
	MinMessages *int `yaml:"min_messages"` // floor, never trimmed below
}

// Floor resolves the minimum retained message count (default 3).
func (b BudgetConfig) Floor() int {
	if b.MinMessages == nil {
		return 3
	}
	return max(*b.MinMessages, 0)
}

// PacerConfig tunes the visible reveal of streamed text.
type PacerConfig struct {
	Window            int           `yaml:"window"`              // arrival gap samples kept
	Factor            int           `yaml:"factor"`              // backlog divisor per tick
	MaxDelay          time.Duration `yaml:"max_delay"`           // spread over the backlog while paced
	FastForwardBudget time.Duration `yaml:"fast_forward_budget"` // spread over the backlog while draining
	Frame             time.Duration `yaml:"frame"`               // "next paint" delay
}

type ModerationConfig struct {
	// IntervalMs is the throttle window. Nil means default, 0 disables moderation.
	IntervalMs      *int `yaml:"interval_ms"`
	InformLimit     int  `yaml:"inform_limit"`
	ConcurrentLimit int  `yaml:"concurrent_limit"`
}

// Interval resolves the throttle window; zero means moderation is off.
func (m ModerationConfig) Interval() time.Duration {
	if m.IntervalMs == nil {
		return 2 * time.Second
	}
	return time.Duration(*m.IntervalMs) * time.Millisecond
}

type SuggestionConfig struct {
	Disabled bool `yaml:"disabled"`
}

// UpstreamConfig points at the generation endpoint.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	ModerationModel string `yaml:"moderation_model"`
}

type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TargetLanguage string `yaml:"target_language"`
}

type TokenizerConfig struct {
	Encoding string `yaml:"encoding"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory|redis|postgres
	Prefix string `yaml:"prefix"`
	// EncryptionKey seals stored values with AES-GCM when set (16, 24 or 32 bytes).
	EncryptionKey string `yaml:"encryption_key"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Budget     BudgetConfig     `yaml:"budget"`
	Pacer      PacerConfig      `yaml:"pacer"`
	Moderation ModerationConfig `yaml:"moderation"`
	Suggestion SuggestionConfig `yaml:"suggestion"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Tokenizer  TokenizerConfig  `yaml:"tokenizer"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Locale     string           `yaml:"locale"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies env overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML and finalizes the config.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv honours the public knobs the web client shipped with.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("PUBLIC_MAX_TOKENS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBLIC_MAX_TOKENS: %w", err)
		}
		cfg.Budget.MaxTokens = n
	}
	if v := strings.TrimSpace(getenv("PUBLIC_MIN_MESSAGES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBLIC_MIN_MESSAGES: %w", err)
		}
		cfg.Budget.MinMessages = &n
	}
	if v := strings.TrimSpace(getenv("PUBLIC_MODERATION_INTERVAL")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBLIC_MODERATION_INTERVAL: %w", err)
		}
		cfg.Moderation.IntervalMs = &n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Budget.MaxTokens <= 0 {
		cfg.Budget.MaxTokens = 3000
	}
	if cfg.Pacer.Window <= 0 {
		cfg.Pacer.Window = 5
	}
	if cfg.Pacer.Factor <= 0 {
		cfg.Pacer.Factor = 50
	}
	if cfg.Pacer.MaxDelay <= 0 {
		cfg.Pacer.MaxDelay = 500 * time.Millisecond
	}
	if cfg.Pacer.FastForwardBudget <= 0 {
		cfg.Pacer.FastForwardBudget = 10 * time.Millisecond
	}
	if cfg.Pacer.Frame <= 0 {
		cfg.Pacer.Frame = 16 * time.Millisecond
	}
	if cfg.Moderation.InformLimit <= 0 {
		cfg.Moderation.InformLimit = 3
	}
	if cfg.Moderation.ConcurrentLimit <= 0 {
		cfg.Moderation.ConcurrentLimit = 4
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 5 * time.Minute
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.ModerationModel == "" {
		cfg.OpenAI.ModerationModel = "omni-moderation-latest"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.TargetLanguage == "" {
		cfg.Gemini.TargetLanguage = "Simplified Chinese"
	}
	if cfg.Tokenizer.Encoding == "" {
		cfg.Tokenizer.Encoding = "cl100k_base"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = "endless-chat:"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 30 * 24 * time.Hour
	}
	if cfg.Locale == "" {
		cfg.Locale = "zh"
	}
}

func validate(cfg *Config) error {
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for store.driver=redis")
		}
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for store.driver=postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
	if n := len(cfg.Store.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("store.encryption_key must be 16, 24, or 32 bytes; got %d", n)
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}
