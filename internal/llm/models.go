package llm

// Roster lists every model the turn loop and guard rail's cost table know
// about, grounded on original_source/src/llms/mod.rs's ModelInfo impls.
// Grok/Groq are folded into the single openaicompat adapter since both speak
// an OpenAI-shaped chat-completions API; only Anthropic gets its own wire
// format.
var Roster = map[string]ModelInfo{
	"claude-opus-4-5": {
		APIName: "claude-opus-4-5", DisplayName: "Opus 4.5", Provider: ProviderAnthropic,
		ContextWindow: 200_000, InputPricePerMtok: 5.0, OutputPricePerMtok: 25.0,
	},
	"claude-sonnet-4-5": {
		APIName: "claude-sonnet-4-5", DisplayName: "Sonnet 4.5", Provider: ProviderAnthropic,
		ContextWindow: 200_000, InputPricePerMtok: 3.0, OutputPricePerMtok: 15.0,
	},
	"claude-haiku-4-5": {
		APIName: "claude-haiku-4-5", DisplayName: "Haiku 4.5", Provider: ProviderAnthropic,
		ContextWindow: 200_000, InputPricePerMtok: 1.0, OutputPricePerMtok: 5.0,
	},
	"grok-4-1-fast": {
		APIName: "grok-4-1-fast", DisplayName: "Grok 4.1 Fast", Provider: ProviderOpenAICompat,
		ContextWindow: 2_000_000, InputPricePerMtok: 0.20, OutputPricePerMtok: 0.50,
	},
	"grok-4-fast": {
		APIName: "grok-4-fast", DisplayName: "Grok 4 Fast", Provider: ProviderOpenAICompat,
		ContextWindow: 2_000_000, InputPricePerMtok: 0.20, OutputPricePerMtok: 0.50,
	},
	"openai/gpt-oss-120b": {
		APIName: "openai/gpt-oss-120b", DisplayName: "GPT-OSS 120B", Provider: ProviderOpenAICompat,
		ContextWindow: 131_072, InputPricePerMtok: 1.20, OutputPricePerMtok: 1.20,
	},
	"openai/gpt-oss-20b": {
		APIName: "openai/gpt-oss-20b", DisplayName: "GPT-OSS 20B", Provider: ProviderOpenAICompat,
		ContextWindow: 131_072, InputPricePerMtok: 0.20, OutputPricePerMtok: 0.20,
	},
	"llama-3.3-70b-versatile": {
		APIName: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B", Provider: ProviderOpenAICompat,
		ContextWindow: 131_072, InputPricePerMtok: 0.59, OutputPricePerMtok: 0.79,
	},
}

// Lookup returns the roster entry for an API model name.
func Lookup(apiName string) (ModelInfo, bool) {
	m, ok := Roster[apiName]
	return m, ok
}

// EstimateCostUSD computes the dollar cost of one turn's token usage against
// a model's per-million-token pricing.
func EstimateCostUSD(m ModelInfo, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*m.InputPricePerMtok + float64(outputTokens)/1_000_000*m.OutputPricePerMtok
}
