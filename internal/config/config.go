// Package config loads and validates the bridge configuration.
// Configuration lives in bridge.yaml under the data directory; every field
// has a working default and environment variables override secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server settings
	Server ServerConfig `yaml:"server"`

	// Synology Chat integration
	Chat ChatConfig `yaml:"chat"`

	// Claude CLI executor
	Claude ClaudeConfig `yaml:"claude"`

	// Context window management
	ContextWindow ContextWindowConfig `yaml:"context_window"`

	// Session storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ChatConfig configures the Synology Chat transport.
type ChatConfig struct {
	// Token sent by Synology Chat's outgoing webhook; verified on every
	// incoming request.
	WebhookToken string `yaml:"webhook_token"`

	// URL of the Synology Chat incoming webhook used for replies.
	IncomingWebhookURL string `yaml:"incoming_webhook_url"`

	// Maximum characters per outgoing chat message. Longer replies are
	// re-chunked and numbered by the transport formatter.
	MaxMessageSize int `yaml:"max_message_size"`

	// Minimum interval between outgoing messages (rate limit).
	SendInterval time.Duration `yaml:"send_interval"`

	// HTTP timeout for outgoing webhook posts.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// ClaudeConfig configures the Claude CLI executor.
type ClaudeConfig struct {
	// Binary is the claude CLI executable (name or absolute path).
	Binary string `yaml:"binary"`

	// WorkDir is the working directory for CLI invocations.
	WorkDir string `yaml:"work_dir"`

	// Timeout bounds a single CLI invocation (one part).
	Timeout time.Duration `yaml:"timeout"`

	// SummaryTimeout bounds a summarization invocation.
	SummaryTimeout time.Duration `yaml:"summary_timeout"`

	// ExtraArgs are appended to every invocation (e.g. --model).
	ExtraArgs []string `yaml:"extra_args"`
}

// ContextWindowConfig holds the token budget and segmentation constants.
type ContextWindowConfig struct {
	// MaxChunkSize is the input segmentation threshold in characters.
	MaxChunkSize int `yaml:"max_chunk_size"`

	// CharsPerToken is the heuristic chars-per-token ratio (K).
	CharsPerToken int `yaml:"chars_per_token"`

	// SoftLimit triggers advisory history compaction.
	SoftLimit int `yaml:"soft_limit"`

	// HardLimit is the hard usage ceiling. Must exceed SoftLimit.
	HardLimit int `yaml:"hard_limit"`

	// TailSize is the number of recent turns always kept verbatim.
	TailSize int `yaml:"tail_size"`

	// MaxCompactSpan bounds the number of turns summarized per compaction.
	// Turns older than the span are discarded.
	MaxCompactSpan int `yaml:"max_compact_span"`
}

// StorageConfig configures the SQLite session store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized debug logging.
// Mirrored by internal/logging to avoid a circular import.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns a configuration with working defaults.
// The webhook token and incoming webhook URL have no defaults; they must
// come from the config file or the environment.
func DefaultConfig() *Config {
	return &Config{
		Name:    "synology-chat-claude-bridge",
		Version: "1.0.0",
		Server: ServerConfig{
			ListenAddr:      ":8418",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Chat: ChatConfig{
			MaxMessageSize: 2000,
			SendInterval:   time.Second,
			SendTimeout:    10 * time.Second,
		},
		Claude: ClaudeConfig{
			Binary:         "claude",
			Timeout:        5 * time.Minute,
			SummaryTimeout: 2 * time.Minute,
		},
		ContextWindow: ContextWindowConfig{
			MaxChunkSize:   4000,
			CharsPerToken:  4,
			SoftLimit:      120000,
			HardLimit:      160000,
			TailSize:       5,
			MaxCompactSpan: 20,
		},
		Storage: StorageConfig{
			DatabasePath: "sessions.db",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("BRIDGE_TOKEN"); token != "" {
		c.Chat.WebhookToken = token
	}
	if url := os.Getenv("BRIDGE_WEBHOOK_URL"); url != "" {
		c.Chat.IncomingWebhookURL = url
	}
	if bin := os.Getenv("CLAUDE_BIN"); bin != "" {
		c.Claude.Binary = bin
	}
	if path := os.Getenv("BRIDGE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if addr := os.Getenv("BRIDGE_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
}

// Validate checks the configuration for startup-fatal inconsistencies.
// A failure here rejects the process before any turn is handled.
func (c *Config) Validate() error {
	w := c.ContextWindow
	if w.CharsPerToken < 1 {
		return fmt.Errorf("chars_per_token must be >= 1, got %d", w.CharsPerToken)
	}
	if w.MaxChunkSize < 1 {
		return fmt.Errorf("max_chunk_size must be >= 1, got %d", w.MaxChunkSize)
	}
	if w.SoftLimit < 1 {
		return fmt.Errorf("soft_limit must be >= 1, got %d", w.SoftLimit)
	}
	if w.SoftLimit >= w.HardLimit {
		return fmt.Errorf("soft_limit (%d) must be below hard_limit (%d)", w.SoftLimit, w.HardLimit)
	}
	if w.TailSize < 1 {
		return fmt.Errorf("tail_size must be >= 1, got %d", w.TailSize)
	}
	if w.MaxCompactSpan < 1 {
		return fmt.Errorf("max_compact_span must be >= 1, got %d", w.MaxCompactSpan)
	}
	if c.Chat.MaxMessageSize < 1 {
		return fmt.Errorf("max_message_size must be >= 1, got %d", c.Chat.MaxMessageSize)
	}
	if c.Claude.Binary == "" {
		return fmt.Errorf("claude binary not configured (set claude.binary or CLAUDE_BIN)")
	}
	return nil
}

// ValidateServe performs the additional checks required to run the webhook
// server: the chat credentials must be present.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Chat.WebhookToken == "" {
		return fmt.Errorf("webhook token not configured (set chat.webhook_token or BRIDGE_TOKEN)")
	}
	if c.Chat.IncomingWebhookURL == "" {
		return fmt.Errorf("incoming webhook URL not configured (set chat.incoming_webhook_url or BRIDGE_WEBHOOK_URL)")
	}
	return nil
}
