// Package openrouter provides an OpenRouter preset of the OpenAI-compatible
// provider. OpenRouter proxies many upstream models behind the Chat
// Completions format; pick the upstream with the model string, e.g.
// "anthropic/claude-sonnet-4".
package openrouter

import (
	"github.com/Desarso/genflow/models/openai"
)

const (
	BaseURL      = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel = "openai/gpt-4o"
)

type OpenRouter_Model struct {
	openai.OpenAI_Model
}

func (o *OpenRouter_Model) Name() string { return "openrouter" }

// New returns a provider targeting the OpenRouter API. The API key is read
// from OPENROUTER_API_KEY.
func New(model string) *OpenRouter_Model {
	if model == "" {
		model = DefaultModel
	}
	return &OpenRouter_Model{openai.OpenAI_Model{
		Model:     model,
		BaseURL:   BaseURL,
		APIKeyEnv: "OPENROUTER_API_KEY",
	}}
}
