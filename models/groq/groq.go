// Package groq provides a Groq preset of the OpenAI-compatible provider.
// Groq speaks the Chat Completions wire format, so the full converter and
// streaming pipeline come from the openai package unchanged.
package groq

import (
	"github.com/Desarso/genflow/models/openai"
)

const (
	BaseURL      = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel = "llama-3.3-70b-versatile"
)

type Groq_Model struct {
	openai.OpenAI_Model
}

func (g *Groq_Model) Name() string { return "groq" }

// New returns a provider targeting the Groq API. The API key is read from
// GROQ_API_KEY.
func New(model string) *Groq_Model {
	if model == "" {
		model = DefaultModel
	}
	return &Groq_Model{openai.OpenAI_Model{
		Model:     model,
		BaseURL:   BaseURL,
		APIKeyEnv: "GROQ_API_KEY",
	}}
}
