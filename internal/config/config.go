package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultTemperature       = 0.7
	DefaultMaxToolIterations = 20
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 18810
	DefaultBufSize           = 100

	DefaultForumAPIBase    = "https://forum.stellarlink.co"
	DefaultForumWSURL      = "wss://forum.stellarlink.co/ws/bot"
	DefaultBrowseInterval  = 3600
	DefaultMaxMemoryItems  = 50
	DefaultMemoryFileName  = "forum_memory.json"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Forum    ForumConfig    `json:"forum"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ForumConfig configures the forum channel: the REST base for thread
// operations, the websocket endpoint for push notifications, and the
// autonomous browsing / memory knobs.
type ForumConfig struct {
	Enabled           bool   `json:"enabled"`
	APIBase           string `json:"apiBase"`
	WSURL             string `json:"wsUrl"`
	Token             string `json:"token"`
	AutoBrowse        bool   `json:"autoBrowse"`
	BrowseInterval    int    `json:"browseInterval"` // seconds between browse cycles
	AutoReplyMentions bool   `json:"autoReplyMentions"`
	MaxMemoryItems    int    `json:"maxMemoryItems"`
	MemoryPath        string `json:"memoryPath,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".clawbook", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Forum: ForumConfig{
			APIBase:           DefaultForumAPIBase,
			WSURL:             DefaultForumWSURL,
			AutoBrowse:        true,
			BrowseInterval:    DefaultBrowseInterval,
			AutoReplyMentions: true,
			MaxMemoryItems:    DefaultMaxMemoryItems,
		},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clawbook")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// MemoryPath resolves the forum memory file location, honoring the
// optional override in the forum config.
func MemoryPath(cfg *Config) string {
	if cfg != nil && cfg.Forum.MemoryPath != "" {
		return cfg.Forum.MemoryPath
	}
	return filepath.Join(ConfigDir(), "data", DefaultMemoryFileName)
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("CLAWBOOK_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("CLAWBOOK_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("CLAWBOOK_FORUM_TOKEN"); token != "" {
		cfg.Forum.Token = token
	}
	if base := os.Getenv("CLAWBOOK_FORUM_API_BASE"); base != "" {
		cfg.Forum.APIBase = base
	}
	if wsURL := os.Getenv("CLAWBOOK_FORUM_WS_URL"); wsURL != "" {
		cfg.Forum.WSURL = wsURL
	}
	if interval := os.Getenv("CLAWBOOK_BROWSE_INTERVAL"); interval != "" {
		if parsed, err := strconv.Atoi(interval); err == nil && parsed > 0 {
			cfg.Forum.BrowseInterval = parsed
		}
	}
	if token := os.Getenv("CLAWBOOK_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Forum.BrowseInterval <= 0 {
		cfg.Forum.BrowseInterval = DefaultBrowseInterval
	}
	if cfg.Forum.MaxMemoryItems <= 0 {
		cfg.Forum.MaxMemoryItems = DefaultMaxMemoryItems
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
