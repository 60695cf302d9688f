package openai

import "github.com/Desarso/genflow/models"

// OpenAI-compatible chat-completion wire types. Several backends share this
// shape (OpenAI, Cerebras, Groq, OpenRouter, DeepSeek), so the converter is
// written against the common subset.

// Request types

type ChatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Tools         []Tool         `json:"tools,omitempty"`
	ToolChoice    interface{}    `json:"tool_choice,omitempty"` // "auto", "none", or specific tool
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type Message struct {
	Role    string      `json:"role"`              // "system", "user", "assistant", "tool"
	Content interface{} `json:"content,omitempty"` // string or []ContentPart for multimodal
	// ReasoningContent carries extended-thinking text on backends that
	// support it (DeepSeek-style). Never conflated with Content.
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID       *string    `json:"tool_call_id,omitempty"` // For tool response messages
}

type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type Tool struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"` // JSON Schema object
}

type ToolCall struct {
	// Index is only present on streaming deltas; it positions the call
	// within the turn but is not a stable key (see the streaming package).
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"` // "function"
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"` // JSON string, fragmented across deltas
}

// Response types

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion" / "chat.completion.chunk"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`       // For non-streaming
	Delta        *Message `json:"delta,omitempty"`         // For streaming
	FinishReason *string  `json:"finish_reason,omitempty"` // "stop", "tool_calls", "length", etc.
}

type Usage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// ErrorResponse covers both root-level and nested error payloads.
type ErrorResponse struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code,omitempty"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ConvertToOpenAITools converts FunctionDeclarations to the wire Tool format.
func ConvertToOpenAITools(fds []models.FunctionDeclaration) []Tool {
	tools := make([]Tool, len(fds))
	for i, fd := range fds {
		tools[i] = Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			},
		}
	}
	return tools
}

// finishReasonTable maps the provider vocabulary onto the canonical one.
// Unmapped values become FinishReasonUnspecified, never an error.
var finishReasonTable = map[string]models.FinishReason{
	"stop":           models.FinishReasonStop,
	"tool_calls":     models.FinishReasonStop,
	"function_call":  models.FinishReasonStop,
	"length":         models.FinishReasonMaxTokens,
	"content_filter": models.FinishReasonSafety,
}

func mapFinishReason(reason string) models.FinishReason {
	if mapped, ok := finishReasonTable[reason]; ok {
		return mapped
	}
	return models.FinishReasonUnspecified
}

func mapUsage(u *Usage) *models.UsageMetadata {
	if u == nil {
		return nil
	}
	meta := &models.UsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		meta.CachedContentTokenCount = u.PromptTokensDetails.CachedTokens
	}
	return meta
}
