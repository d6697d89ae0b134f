package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type ServerConfig struct {
	Listen                string `toml:"listen"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

type AgentConfig struct {
	StepCeiling     int    `toml:"step_ceiling"`
	DefaultProvider string `toml:"default_provider"`
	DefaultModel    string `toml:"default_model"`
	SystemPrompt    string `toml:"system_prompt,omitempty"`
}

type WorldsConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key,omitempty"`
	IRIBase string `toml:"iri_base,omitempty"`
}

type OllamaConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

type ProviderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url,omitempty"`
}

type SecurityConfig struct {
	Method     string `toml:"method"` // "plaintext" or "ssh_key"
	SSHKeyPath string `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	Server    ServerConfig     `toml:"server"`
	Agent     AgentConfig      `toml:"agent"`
	Worlds    WorldsConfig     `toml:"worlds"`
	Ollama    OllamaConfig     `toml:"ollama"`
	Security  SecurityConfig   `toml:"security"`
	Providers []ProviderConfig `toml:"providers,omitempty"`
}

// Config is the flattened runtime view assembled from the system config,
// the user config and environment overrides.
type Config struct {
	DataDirectory   string
	Listen          string
	RequestTimeout  time.Duration
	StepCeiling     int
	DefaultProvider string
	DefaultModel    string
	SystemPrompt    string
	WorldsBaseURL   string
	WorldsAPIKey    string
	IRIBase         string
	OllamaHost      string
	OllamaModel     string
	Providers       []ProviderConfig

	CredentialStore *CredentialStore
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// IRIBaseURL returns the base used when minting entity IRIs, falling back
// to the knowledge-store URL when no explicit base is configured.
func (c *Config) IRIBaseURL() string {
	if c.IRIBase != "" {
		return c.IRIBase
	}
	return c.WorldsBaseURL
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("WORLDSD_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if listen := os.Getenv("WORLDSD_LISTEN"); listen != "" {
		c.Listen = listen
	}
	if provider := os.Getenv("WORLDSD_PROVIDER"); provider != "" {
		c.DefaultProvider = provider
	}
	if model := os.Getenv("WORLDSD_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if host := os.Getenv("WORLDSD_OLLAMA_HOST"); host != "" {
		c.OllamaHost = host
	}
	if url := os.Getenv("WORLDSD_WORLDS_URL"); url != "" {
		c.WorldsBaseURL = url
	}
	if key := os.Getenv("WORLDSD_WORLDS_API_KEY"); key != "" {
		c.WorldsAPIKey = key
	}
	if ceiling := os.Getenv("WORLDSD_STEP_CEILING"); ceiling != "" {
		if n, err := strconv.Atoi(ceiling); err == nil && n > 0 {
			c.StepCeiling = n
		}
	}
}

func CheckDebug() bool {
	debug := os.Getenv("WORLDSD_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: debug output may contain message content
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (WORLDSD_DEBUG=%s) ===", os.Getenv("WORLDSD_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.DataDirectory = systemCfg.DataDirectory

	// Env override for the data dir has to land before the user config is
	// read from it.
	if dataDir := os.Getenv("WORLDSD_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	// Credentials: provider API keys live outside config.toml.
	method := SecurityMethod(userCfg.Security.Method)
	if method == "" {
		method = SecurityPlainText
	}
	store := NewCredentialStore(method, ExpandPath(userCfg.Security.SSHKeyPath))
	if passphrase := os.Getenv("WORLDSD_SSH_PASSPHRASE"); passphrase != "" {
		store.SetPassphrase(passphrase)
	}
	if err := store.Load(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	cfg.CredentialStore = store

	if cfg.WorldsAPIKey == "" {
		cfg.WorldsAPIKey = store.Get("worlds")
	}

	return cfg, nil
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	if userCfg.Server.Listen != "" {
		c.Listen = userCfg.Server.Listen
	}
	if userCfg.Server.RequestTimeoutSeconds > 0 {
		c.RequestTimeout = time.Duration(userCfg.Server.RequestTimeoutSeconds) * time.Second
	}
	if userCfg.Agent.StepCeiling > 0 {
		c.StepCeiling = userCfg.Agent.StepCeiling
	}
	if userCfg.Agent.DefaultProvider != "" {
		c.DefaultProvider = userCfg.Agent.DefaultProvider
	}
	if userCfg.Agent.DefaultModel != "" {
		c.DefaultModel = userCfg.Agent.DefaultModel
	}
	c.SystemPrompt = userCfg.Agent.SystemPrompt
	if userCfg.Worlds.BaseURL != "" {
		c.WorldsBaseURL = userCfg.Worlds.BaseURL
	}
	if userCfg.Worlds.APIKey != "" {
		c.WorldsAPIKey = userCfg.Worlds.APIKey
	}
	c.IRIBase = userCfg.Worlds.IRIBase
	if userCfg.Ollama.Host != "" {
		c.OllamaHost = userCfg.Ollama.Host
	}
	if userCfg.Ollama.DefaultModel != "" {
		c.OllamaModel = userCfg.Ollama.DefaultModel
	}
	c.Providers = userCfg.Providers
}

// ProviderEnabled reports whether a provider is enabled. Providers absent
// from the list are considered enabled so a fresh config works out of the
// box.
func (c *Config) ProviderEnabled(id string) bool {
	for _, p := range c.Providers {
		if p.ID == id {
			return p.Enabled
		}
	}
	return true
}

// ProviderBaseURL returns the configured base URL override for a provider,
// or empty when the provider default should be used.
func (c *Config) ProviderBaseURL(id string) string {
	if id == "ollama" {
		return c.OllamaHost
	}
	for _, p := range c.Providers {
		if p.ID == id {
			return p.BaseURL
		}
	}
	return ""
}
