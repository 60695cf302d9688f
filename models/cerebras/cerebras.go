// Package cerebras provides a Cerebras preset of the OpenAI-compatible
// provider.
package cerebras

import (
	"github.com/Desarso/genflow/models/openai"
)

const (
	BaseURL      = "https://api.cerebras.ai/v1/chat/completions"
	DefaultModel = "llama-3.3-70b"
)

type Cerebras_Model struct {
	openai.OpenAI_Model
}

func (c *Cerebras_Model) Name() string { return "cerebras" }

// New returns a provider targeting the Cerebras API. The API key is read
// from CEREBRAS_API_KEY.
func New(model string) *Cerebras_Model {
	if model == "" {
		model = DefaultModel
	}
	return &Cerebras_Model{openai.OpenAI_Model{
		Model:     model,
		BaseURL:   BaseURL,
		APIKeyEnv: "CEREBRAS_API_KEY",
	}}
}
