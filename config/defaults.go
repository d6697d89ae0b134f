package config

import "time"

func defaultConfig() *Config {
	return &Config{
		DataDirectory:   "~/.local/share/worldsd",
		Listen:          ":8787",
		RequestTimeout:  120 * time.Second,
		StepCeiling:     5,
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-haiku-4-5",
		WorldsBaseURL:   "http://localhost:8080",
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "llama3.1:latest",
	}
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/worldsd",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Server: ServerConfig{
			Listen:                ":8787",
			RequestTimeoutSeconds: 120,
		},
		Agent: AgentConfig{
			StepCeiling:     5,
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-haiku-4-5",
		},
		Worlds: WorldsConfig{
			BaseURL: "http://localhost:8080",
		},
		Ollama: OllamaConfig{
			Host:         "http://localhost:11434",
			DefaultModel: "llama3.1:latest",
		},
		Security: SecurityConfig{
			Method: "plaintext",
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# worldsd System Configuration
# Location: ~/.config/worldsd/settings.toml
# This file uses TOML format: https://toml.io

# Directory where the conversation log, credentials and user config are stored
data_directory = "~/.local/share/worldsd"
`
}

func GenerateUserConfigTemplate() string {
	return `# worldsd User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[server]
# Address the HTTP server listens on
listen = ":8787"

# Hard ceiling on a single chat request, seconds. When it fires, pending
# tool approvals are denied and the response stream is closed.
request_timeout_seconds = 120

[agent]
# Maximum number of model turns per chat request
step_ceiling = 5

# Provider used when the request names no model: anthropic, openai,
# openrouter or ollama
default_provider = "anthropic"
default_model = "claude-haiku-4-5"

# Extra system prompt appended after the built-in agent instructions (optional)
system_prompt = ""

[worlds]
# Knowledge store API
base_url = "http://localhost:8080"

# API key may be set here or in credentials under the "worlds" id
api_key = ""

# Base URL for minted entity IRIs (defaults to base_url)
iri_base = ""

[ollama]
host = "http://localhost:11434"
default_model = "llama3.1:latest"

[security]
# Credential storage: "plaintext" (credentials.toml) or "ssh_key"
# (credentials.enc, AES key derived from the SSH key below)
method = "plaintext"
ssh_key_path = ""
`
}
