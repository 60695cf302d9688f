package models

// Content is one turn of a conversation: a role plus an ordered list of parts.
type Content struct {
	Role  string `json:"role"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// Part is a tagged union. Exactly one variant is populated: Text (optionally
// marked as a Thought), FunctionCall, FunctionResponse, or InlineData.
type Part struct {
	Text string `json:"text,omitempty"`
	// Thought marks Text as model reasoning rather than visible output.
	Thought bool `json:"thought,omitempty"`
	// ThoughtSignature is an opaque token some providers attach to thinking
	// blocks and require echoed back on subsequent turns.
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
}

type FunctionCall struct {
	ID   string                 `json:"id,omitempty"` // Unique ID for this specific call instance
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// FunctionResponse carries a tool's output back to the model.
type FunctionResponse struct {
	ID       string                 `json:"id,omitempty"` // Matches the FunctionCall ID it answers
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// TextPart returns a Content-ready text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ThoughtPart returns a reasoning part, optionally carrying a provider signature.
func ThoughtPart(text, signature string) Part {
	return Part{Text: text, Thought: true, ThoughtSignature: signature}
}

// UserContent wraps text as a single user turn.
func UserContent(text string) Content {
	return Content{Role: "user", Parts: []Part{{Text: text}}}
}
