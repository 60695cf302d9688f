package models

// Generate_Request is the canonical, provider-agnostic generation request.
// It is immutable once built; converters read it, they never mutate it.
type Generate_Request struct {
	Model string `json:"model"`
	// PromptID is the caller-supplied correlation id used for logging.
	PromptID          string                `json:"prompt_id,omitempty"`
	Contents          []Content             `json:"contents"`
	SystemInstruction string                `json:"system_instruction,omitempty"`
	Tools             []FunctionDeclaration `json:"tools,omitempty"`
	Config            *GenerateConfig       `json:"config,omitempty"`
}

// GenerateConfig holds canonical sampling parameters. Nil fields mean
// "use the provider default"; converters apply their own precedence on top.
type GenerateConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	TopK            *int     `json:"top_k,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
}
