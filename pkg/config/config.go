package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "U4af4980629..." and 123456.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Channels Channels       `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Dispatch DispatchConfig `json:"dispatch"`
	Database DatabaseConfig `json:"database"`
	Gemini   GeminiConfig   `json:"gemini"`
	Maps     MapsConfig     `json:"maps"`
	LogLevel string         `json:"log_level" env:"MEDREMIND_LOG_LEVEL"`
	mu       sync.RWMutex
}

type Channels struct {
	Line    LineConfig    `json:"line"`
	Discord DiscordConfig `json:"discord"`
}

type LineConfig struct {
	ChannelSecret      string              `json:"channel_secret" env:"MEDREMIND_LINE_CHANNEL_SECRET"`
	ChannelAccessToken string              `json:"channel_access_token" env:"MEDREMIND_LINE_CHANNEL_ACCESS_TOKEN"`
	WebhookPath        string              `json:"webhook_path" env:"MEDREMIND_LINE_WEBHOOK_PATH"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"MEDREMIND_LINE_ALLOW_FROM"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"MEDREMIND_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MEDREMIND_DISCORD_ALLOW_FROM"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"MEDREMIND_GATEWAY_HOST"`
	Port int    `json:"port" env:"MEDREMIND_GATEWAY_PORT"`
}

type DispatchConfig struct {
	IntervalSeconds int    `json:"interval_seconds" env:"MEDREMIND_DISPATCH_INTERVAL_SECONDS"`
	Timezone        string `json:"timezone" env:"MEDREMIND_DISPATCH_TIMEZONE"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"MEDREMIND_DATABASE_PATH"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" env:"MEDREMIND_GEMINI_API_KEY"`
	APIBase string `json:"api_base" env:"MEDREMIND_GEMINI_API_BASE"`
	Model   string `json:"model" env:"MEDREMIND_GEMINI_MODEL"`
}

type MapsConfig struct {
	APIKey       string `json:"api_key" env:"MEDREMIND_MAPS_API_KEY"`
	RadiusMeters int    `json:"radius_meters" env:"MEDREMIND_MAPS_RADIUS_METERS"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: Channels{
			Line: LineConfig{
				WebhookPath: "/callback",
				AllowFrom:   FlexibleStringSlice{},
			},
			Discord: DiscordConfig{
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 7860,
		},
		Dispatch: DispatchConfig{
			IntervalSeconds: 20,
			Timezone:        "Asia/Taipei",
		},
		Database: DatabaseConfig{
			Path: "~/.medremind/medremind.db",
		},
		Gemini: GeminiConfig{
			APIBase: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-1.5-flash",
		},
		Maps: MapsConfig{
			RadiusMeters: 1000,
		},
		LogLevel: "info",
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Env overrides still apply without a config file.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Database.Path)
}

func (c *Config) DispatchInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Dispatch.IntervalSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Dispatch.IntervalSeconds) * time.Second
}

// Location resolves the configured dispatch timezone. Falls back to
// Asia/Taipei so reminder firing never depends on host-local time.
func (c *Config) Location() *time.Location {
	c.mu.RLock()
	name := c.Dispatch.Timezone
	c.mu.RUnlock()

	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return time.UTC
	}
	return loc
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
