package providers

import "sort"

// Provider names an LLM vendor API.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// ProviderConfig describes how to reach a provider.
type ProviderConfig struct {
	EnvKey  string
	BaseURL string // empty uses the SDK default
}

// Providers lists every supported provider.
var Providers = map[Provider]ProviderConfig{
	ProviderOpenAI:    {EnvKey: "OPENAI_API_KEY"},
	ProviderDeepSeek:  {EnvKey: "DEEPSEEK_API_KEY", BaseURL: "https://api.deepseek.com"},
	ProviderAnthropic: {EnvKey: "ANTHROPIC_API_KEY"},
	ProviderGemini:    {EnvKey: "GEMINI_API_KEY"},
}

// ModelSpec is one entry of the model catalog.
type ModelSpec struct {
	ID              string
	Provider        Provider
	ModelName       string
	ContextTokens   int
	MaxOutputTokens int     // 0 leaves the provider default
	Temperature     float32 // 0 leaves the provider default
	Description     string
}

// Models is the catalog of model ids a client may request.
var Models = map[string]ModelSpec{
	"o4-mini": {
		Provider: ProviderOpenAI, ModelName: "gpt-4o-mini", ContextTokens: 128000,
		Description: "GPT-4o Mini - Fast and efficient",
	},
	"o1-pro": {
		Provider: ProviderOpenAI, ModelName: "o1-pro", ContextTokens: 128000,
		Description: "O1 Pro - Advanced model with enhanced deep reasoning",
	},
	"gpt-5-chat": {
		Provider: ProviderOpenAI, ModelName: "gpt-5-chat-latest", ContextTokens: 128000,
		Description: "GPT-5 Chat Latest - Latest generation model",
	},
	"gpt-5-nano": {
		Provider: ProviderOpenAI, ModelName: "gpt-5-nano", ContextTokens: 400000,
		Description: "GPT-5 Nano - Fast and with extended context window",
	},
	"deepseek-chat": {
		Provider: ProviderDeepSeek, ModelName: "deepseek-chat", ContextTokens: 64000,
		MaxOutputTokens: 4096, Temperature: 0.7,
		Description: "DeepSeek Chat - General purpose chat model",
	},
	"deepseek-reasoner": {
		Provider: ProviderDeepSeek, ModelName: "deepseek-reasoner", ContextTokens: 64000,
		MaxOutputTokens: 4096, Temperature: 0.6,
		Description: "DeepSeek R1 - Advanced reasoning model",
	},
	"claude-4-sonnet": {
		Provider: ProviderAnthropic, ModelName: "claude-sonnet-4-20250514", ContextTokens: 200000,
		MaxOutputTokens: 4096,
		Description: "Claude 4 Sonnet - Latest generation model",
	},
	"claude-haiku-3.5": {
		Provider: ProviderAnthropic, ModelName: "claude-3-5-haiku-20241022", ContextTokens: 200000,
		MaxOutputTokens: 4096,
		Description: "Claude 3.5 Haiku - Fast and efficient",
	},
	"gemini-2.5-flash": {
		Provider: ProviderGemini, ModelName: "gemini-2.5-flash", ContextTokens: 1000000,
		Description: "Gemini 2.5 Flash - Fast multimodal model",
	},
}

func init() {
	for id, m := range Models {
		m.ID = id
		Models[id] = m
	}
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (ModelSpec, bool) {
	m, ok := Models[id]
	return m, ok
}

// ModelIDs returns every catalog id in sorted order.
func ModelIDs() []string {
	ids := make([]string, 0, len(Models))
	for id := range Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
