package gemini

import "github.com/Desarso/genflow/models"

// The wire format here is the native shape of the canonical representation,
// so requests and responses embed the models types directly.

type GeminiRequest struct {
	Contents          []models.Content   `json:"contents"`
	Tools             []GeminiTool       `json:"tools,omitempty"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
}

type SystemInstruction struct {
	Parts []models.Part `json:"parts"`
}

type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []SanitizedFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiResponse struct {
	ResponseID    string             `json:"responseId"`
	ModelVersion  string             `json:"modelVersion"`
	Candidates    []GeminiCandidate  `json:"candidates"`
	UsageMetadata *WireUsageMetadata `json:"usageMetadata,omitempty"`
}

type GeminiCandidate struct {
	Content      models.Content `json:"content"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type WireUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
}

// ErrorResponse is the standard Google API error envelope.
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// SanitizedFunctionDeclaration ensures proper JSON structure for the Gemini API.
type SanitizedFunctionDeclaration struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Parameters  SanitizedParameters `json:"parameters"`
}

type SanitizedParameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// ConvertToGeminiTools converts FunctionDeclarations to a Gemini-safe tools
// block: properties never null, type defaulted to "object".
func ConvertToGeminiTools(fds []models.FunctionDeclaration) []GeminiTool {
	decls := make([]SanitizedFunctionDeclaration, len(fds))
	for i, fd := range fds {
		params := SanitizedParameters{
			Type:       fd.Parameters.Type,
			Properties: fd.Parameters.Properties,
			Required:   fd.Parameters.Required,
		}
		if params.Properties == nil {
			params.Properties = make(map[string]interface{})
		}
		if params.Type == "" {
			params.Type = "object"
		}
		decls[i] = SanitizedFunctionDeclaration{
			Name:        fd.Name,
			Description: fd.Description,
			Parameters:  params,
		}
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}

func mapWireUsage(u *WireUsageMetadata) *models.UsageMetadata {
	if u == nil {
		return nil
	}
	return &models.UsageMetadata{
		PromptTokenCount:        u.PromptTokenCount,
		CachedContentTokenCount: u.CachedContentTokenCount,
		CandidatesTokenCount:    u.CandidatesTokenCount + u.ThoughtsTokenCount,
		TotalTokenCount:         u.TotalTokenCount,
	}
}
