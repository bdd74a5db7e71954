package provider

import (
	"fmt"

	"github.com/contextpilot/contextpilot/internal/llm"
)

// For builds the concrete Client for a roster entry's provider. Each
// constructor reads its API key from a fixed environment variable
// (ANTHROPIC_API_KEY, GROK_API_KEY or GROQ_API_KEY);
// config.Config.ProviderAPIKeyEnv is not consulted.
func For(p llm.Provider, modelAPIName string) (llm.Client, error) {
	switch p {
	case llm.ProviderAnthropic:
		return NewAnthropic(""), nil
	case llm.ProviderOpenAICompat:
		if isGroqModel(modelAPIName) {
			return NewGroq(""), nil
		}
		return NewGrok(""), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

func isGroqModel(apiName string) bool {
	switch apiName {
	case "openai/gpt-oss-120b", "openai/gpt-oss-20b", "llama-3.3-70b-versatile", "llama-3.1-8b-instant":
		return true
	default:
		return false
	}
}
