// Package provider implements the LLM providers behind the agent loop.
//
// Four providers share one contract: Anthropic (default), OpenAI,
// OpenRouter (OpenAI-compatible) and Ollama for local models. The loop and
// the HTTP surface stay provider-agnostic, so adding a provider means
// implementing the interface and registering it in the factory.
//
// The provider layer owns all type conversions between the canonical
// message/tool types and each vendor SDK: see conversions.go and
// toolschema.go.
package provider

// Note: The Provider interface and StreamCallback are defined in the model
// package (model/provider.go) to avoid import cycles. This package
// implements model.Provider.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // For cloud providers (unused for Ollama)
}
