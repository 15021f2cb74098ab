// ABOUTME: Built-in model descriptors and Anthropic-style prompt-caching
// ABOUTME: breakpoint insertion.

package core

// Built-in model descriptors. Rates are illustrative per-million-token
// dollar figures; embedders that need other rates build their own Model.
var (
	ModelClaudeOpus = Model{
		ID: "claude-opus-4-6", ProviderID: "anthropic", ApiID: "anthropic",
		Reasoning: true, ContextWindow: 200_000, MaxTokens: 200_000,
		SupportsImages: true, SupportsTools: true,
		InputKinds: map[InputKind]bool{InputText: true, InputImage: true},
		Rates:      CostRates{InputPerMillion: 15, OutputPerMillion: 75, CacheReadPerMillion: 1.5, CacheWritePerMillion: 18.75},
	}
	ModelClaudeSonnet = Model{
		ID: "claude-sonnet-4-6", ProviderID: "anthropic", ApiID: "anthropic",
		Reasoning: true, ContextWindow: 200_000, MaxTokens: 200_000,
		SupportsImages: true, SupportsTools: true,
		InputKinds: map[InputKind]bool{InputText: true, InputImage: true},
		Rates:      CostRates{InputPerMillion: 3, OutputPerMillion: 15, CacheReadPerMillion: 0.3, CacheWritePerMillion: 3.75},
	}
	ModelClaudeHaiku = Model{
		ID: "claude-haiku-4-5", ProviderID: "anthropic", ApiID: "anthropic",
		ContextWindow: 200_000, MaxTokens: 200_000,
		SupportsImages: true, SupportsTools: true,
		InputKinds: map[InputKind]bool{InputText: true, InputImage: true},
		Rates:      CostRates{InputPerMillion: 0.8, OutputPerMillion: 4, CacheReadPerMillion: 0.08, CacheWritePerMillion: 1},
	}
	ModelGPT4o = Model{
		ID: "gpt-4o", ProviderID: "openai", ApiID: "openai",
		ContextWindow: 128_000, MaxTokens: 128_000,
		SupportsImages: true, SupportsTools: true,
		InputKinds: map[InputKind]bool{InputText: true, InputImage: true},
		Rates:      CostRates{InputPerMillion: 2.5, OutputPerMillion: 10},
	}
	ModelGemini25Pro = Model{
		ID: "gemini-2.5-pro", ProviderID: "google", ApiID: "google",
		ContextWindow: 1_000_000, MaxTokens: 1_000_000,
		SupportsImages: true, SupportsTools: true,
		InputKinds: map[InputKind]bool{InputText: true, InputImage: true},
		Rates:      CostRates{InputPerMillion: 1.25, OutputPerMillion: 5},
	}
)

// BuiltinModels returns all built-in model descriptors.
func BuiltinModels() []Model {
	return []Model{ModelClaudeOpus, ModelClaudeSonnet, ModelClaudeHaiku, ModelGPT4o, ModelGemini25Pro}
}

// FindModel looks up a built-in model by id.
func FindModel(id string) *Model {
	for _, m := range BuiltinModels() {
		if m.ID == id {
			return &m
		}
	}
	return nil
}

// ApplyPromptCaching marks the system prompt and the last tool definition
// with a cache breakpoint when the target API supports prefix caching.
// Mutates ctx in place and reports whether a breakpoint was inserted.
func ApplyPromptCaching(ctx *Context, api Api) bool {
	if api != "anthropic" {
		return false
	}
	ctx.SystemCacheControl = &CacheControl{Type: "ephemeral"}
	if len(ctx.Tools) > 0 {
		// The provider caches the prefix up to the last block annotated
		// with cache_control; marking only the final tool is sufficient.
		ctx.Tools[len(ctx.Tools)-1].CacheControl = &CacheControl{Type: "ephemeral"}
	}
	return true
}
