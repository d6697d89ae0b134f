package provider

import (
	"worldsd/config"
	"worldsd/model"
)

// cloudProviderIDs are the providers attempted at startup in addition to
// Ollama. A provider without an API key in the credential store fails its
// constructor and is skipped.
var cloudProviderIDs = []string{"anthropic", "openai", "openrouter"}

// InitializeProviders creates ALL provider instances for the daemon.
//
// This function is the single entry point for provider initialization.
// It handles:
//   - Creating the Ollama provider (if reachable config-wise)
//   - Creating all enabled cloud providers (Anthropic, OpenAI, OpenRouter)
//   - Loading API keys from the credential store
//   - Mapping provider IDs to provider types
//   - Graceful degradation (logs warnings but doesn't fail)
//
// The provider package owns the complete provider lifecycle, so all
// initialization logic lives here, not in config or server packages.
//
// Returns a map of provider ID to provider instance. A chat request that
// names a provider absent from the map is rejected by the server.
func InitializeProviders(cfg *config.Config) map[string]model.Provider {
	providers := make(map[string]model.Provider)

	// Ollama first (special case - no API key, always attempted)
	ollamaProvider := initializeOllama(cfg)
	if ollamaProvider != nil {
		providers["ollama"] = ollamaProvider
		if config.Debug {
			config.DebugLog.Printf("[Provider] Initialized Ollama provider")
		}
	} else {
		if config.Debug {
			config.DebugLog.Printf("[Provider] Ollama provider initialization failed (continuing without it)")
		}
	}

	for _, id := range cloudProviderIDs {
		if !cfg.ProviderEnabled(id) {
			continue
		}

		apiKey := ""
		if cfg.CredentialStore != nil {
			apiKey = cfg.CredentialStore.Get(id)
		}

		providerType := MapProviderIDToType(id)

		p, err := NewProvider(Config{
			Type:    providerType,
			BaseURL: cfg.ProviderBaseURL(id),
			APIKey:  apiKey,
			Model:   "", // Set per request
		})

		if err != nil {
			// Log warning but don't fail - let the daemon start
			if config.Debug {
				config.DebugLog.Printf("[Provider] Warning: failed to initialize provider %s: %v", id, err)
			}
			continue
		}

		providers[id] = p
		if config.Debug {
			config.DebugLog.Printf("[Provider] Initialized provider: %s (type: %s)", id, providerType)
		}
	}

	return providers
}

// initializeOllama creates the Ollama provider instance.
// Returns nil if initialization fails.
func initializeOllama(cfg *config.Config) model.Provider {
	providerCfg := Config{
		Type:    ProviderTypeOllama,
		BaseURL: cfg.OllamaHost,
		Model:   cfg.OllamaModel,
	}

	p, err := NewProvider(providerCfg)
	if err != nil {
		if config.Debug {
			config.DebugLog.Printf("[Provider] Ollama provider creation failed: %v", err)
		}
		return nil
	}

	return p
}
