package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/retry"
	"github.com/Desarso/genflow/streaming"
	"github.com/joho/godotenv"
	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1/chat/completions"
	DefaultModel   = "gpt-4o"

	fallbackEncoding = "cl100k_base"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// OpenAI_Model implements the genflow Provider interface for any backend
// speaking the OpenAI chat-completions dialect. Model-level sampling fields
// take precedence over the per-request config, which takes precedence over
// the provider defaults.
//
// A single instance must not run two streams concurrently: the tool-call
// parser is instance-scoped and is reset at the start of every stream.
type OpenAI_Model struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	BaseURL     string // Optional: custom API endpoint
	APIKeyEnv   string // Optional: env var name for API key (defaults to OPENAI_API_KEY)

	parser *streaming.ToolCallParser
}

func (m *OpenAI_Model) Name() string { return "openai" }

func (m *OpenAI_Model) modelName() string {
	if m.Model != "" {
		return m.Model
	}
	return DefaultModel
}

// Generate implements the Provider interface for non-streaming requests.
func (m *OpenAI_Model) Generate(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error) {
	chatReq, err := m.BuildRequest(request, false)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL(), bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	m.setHeaders(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{Status: resp.StatusCode, Body: errorBody(body)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return m.ConvertResponse(&chatResp), nil
}

// GenerateStream implements the Provider interface for streaming requests.
func (m *OpenAI_Model) GenerateStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error) {
	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		chatReq, err := m.BuildRequest(request, true)
		if err != nil {
			errChan <- err
			return
		}

		jsonBytes, err := json.Marshal(chatReq)
		if err != nil {
			errChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL(), bytes.NewReader(jsonBytes))
		if err != nil {
			errChan <- fmt.Errorf("failed to create HTTP request: %w", err)
			return
		}
		m.setHeaders(req)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			errChan <- fmt.Errorf("HTTP request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errChan <- &retry.HTTPError{Status: resp.StatusCode, Body: errorBody(body)}
			return
		}

		m.parseSSEStream(ctx, resp.Body, respChan, errChan)
	}()

	return respChan, errChan
}

// BuildRequest translates the canonical request into the chat-completions
// wire shape.
func (m *OpenAI_Model) BuildRequest(request *models.Generate_Request, stream bool) (*ChatRequest, error) {
	messages := []Message{}

	if request.SystemInstruction != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: request.SystemInstruction,
		})
	}

	for _, content := range request.Contents {
		converted, err := convertContent(content)
		if err != nil {
			return nil, err
		}
		messages = append(messages, converted...)
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("cannot create chat request with no messages")
	}

	modelToUse := request.Model
	if modelToUse == "" {
		modelToUse = m.modelName()
	}

	chatReq := &ChatRequest{
		Model:    modelToUse,
		Messages: messages,
		Stream:   stream,
	}
	if stream {
		chatReq.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	if len(request.Tools) > 0 {
		chatReq.Tools = ConvertToOpenAITools(request.Tools)
		chatReq.ToolChoice = "auto"
	}

	applySampling(chatReq, m, request.Config)

	return chatReq, nil
}

// applySampling resolves sampling parameters: model-level overrides win over
// the per-request config.
func applySampling(chatReq *ChatRequest, m *OpenAI_Model, cfg *models.GenerateConfig) {
	if cfg != nil {
		chatReq.Temperature = cfg.Temperature
		chatReq.TopP = cfg.TopP
		chatReq.MaxTokens = cfg.MaxOutputTokens
	}
	if m.Temperature != nil {
		chatReq.Temperature = m.Temperature
	}
	if m.TopP != nil {
		chatReq.TopP = m.TopP
	}
	if m.MaxTokens != nil {
		chatReq.MaxTokens = m.MaxTokens
	}
}

// convertContent maps one canonical turn to wire messages. Function
// responses become standalone "tool" messages; everything else folds into a
// single user or assistant message.
func convertContent(content models.Content) ([]Message, error) {
	var messages []Message

	if content.Role == "model" {
		msg := Message{Role: "assistant"}
		var text strings.Builder
		for _, part := range content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			// Thought parts are never sent back: this dialect has no way to
			// replay reasoning, and leaking it as content confuses models.
			if part.FunctionCall != nil {
				argsBytes, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool call args for %q: %w", part.FunctionCall.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{
					ID:   part.FunctionCall.ID,
					Type: "function",
					Function: ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(argsBytes),
					},
				})
			}
		}
		if text.Len() > 0 {
			msg.Content = text.String()
		}
		if msg.Content != nil || len(msg.ToolCalls) > 0 {
			messages = append(messages, msg)
		}
		return messages, nil
	}

	var contentParts []ContentPart
	hasMedia := false
	for _, part := range content.Parts {
		switch {
		case part.FunctionResponse != nil:
			responseBytes, _ := json.Marshal(part.FunctionResponse.Response)
			toolCallID := part.FunctionResponse.ID
			messages = append(messages, Message{
				Role:       "tool",
				Content:    string(responseBytes),
				ToolCallID: &toolCallID,
			})
		case part.InlineData != nil:
			hasMedia = true
			dataURL := fmt.Sprintf("data:%s;base64,%s", part.InlineData.MimeType, part.InlineData.Data)
			contentParts = append(contentParts, ContentPart{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: dataURL},
			})
		case part.Text != "":
			contentParts = append(contentParts, ContentPart{Type: "text", Text: part.Text})
		}
	}

	if len(contentParts) > 0 {
		msg := Message{Role: "user"}
		if hasMedia {
			msg.Content = contentParts
		} else {
			var texts []string
			for _, cp := range contentParts {
				texts = append(texts, cp.Text)
			}
			msg.Content = strings.Join(texts, "\n")
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// ConvertResponse maps a full (non-streaming) wire response to the canonical
// shape. Unparseable tool-call arguments are recovered as empty args; the
// error never escapes the converter.
func (m *OpenAI_Model) ConvertResponse(resp *ChatResponse) *models.Generate_Response {
	out := &models.Generate_Response{
		ResponseID: resp.ID,
		Model:      resp.Model,
	}

	for _, choice := range resp.Choices {
		if choice.Message == nil {
			continue
		}
		candidate := models.Candidate{Content: models.Content{Role: "model"}}

		if choice.Message.ReasoningContent != "" {
			candidate.Content.Parts = append(candidate.Content.Parts, models.ThoughtPart(choice.Message.ReasoningContent, ""))
		}
		if text, ok := choice.Message.Content.(string); ok && text != "" {
			candidate.Content.Parts = append(candidate.Content.Parts, models.TextPart(text))
		}
		for _, toolCall := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
				log.Printf("Warning: failed to unmarshal tool call arguments for %q: %v", toolCall.Function.Name, err)
				args = map[string]interface{}{}
			}
			candidate.Content.Parts = append(candidate.Content.Parts, models.Part{
				FunctionCall: &models.FunctionCall{
					ID:   toolCall.ID,
					Name: toolCall.Function.Name,
					Args: args,
				},
			})
		}
		if choice.FinishReason != nil {
			candidate.FinishReason = mapFinishReason(*choice.FinishReason)
		}
		out.Candidates = append(out.Candidates, candidate)
	}

	out.UsageMetadata = mapUsage(resp.Usage)
	return out
}

// ConvertChunk maps one streaming wire chunk to the canonical shape,
// accumulating fragmented tool-call arguments in the parser. Tool calls are
// only emitted on the chunk that carries the finish reason, once every
// buffer is complete.
func (m *OpenAI_Model) ConvertChunk(chunk *ChatResponse) *models.Generate_Response {
	out := &models.Generate_Response{
		ResponseID: chunk.ID,
		Model:      chunk.Model,
	}

	for _, choice := range chunk.Choices {
		candidate := models.Candidate{Content: models.Content{Role: "model"}}

		if choice.Delta != nil {
			if choice.Delta.ReasoningContent != "" {
				candidate.Content.Parts = append(candidate.Content.Parts, models.ThoughtPart(choice.Delta.ReasoningContent, ""))
			}
			if text, ok := choice.Delta.Content.(string); ok && text != "" {
				candidate.Content.Parts = append(candidate.Content.Parts, models.TextPart(text))
			}
			for _, toolCall := range choice.Delta.ToolCalls {
				index := 0
				if toolCall.Index != nil {
					index = *toolCall.Index
				}
				res := m.toolParser().AddChunk(index, toolCall.Function.Arguments, toolCall.ID, toolCall.Function.Name)
				if res.Err != nil {
					// Drop the offending call, keep the stream alive.
					log.Printf("Warning: %v", res.Err)
					m.toolParser().ResetIndex(index)
				}
			}
		}

		if choice.FinishReason != nil {
			for _, call := range m.toolParser().CompletedCalls() {
				candidate.Content.Parts = append(candidate.Content.Parts, models.Part{
					FunctionCall: &models.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
				})
			}
			m.toolParser().Reset()
			candidate.FinishReason = mapFinishReason(*choice.FinishReason)
		}

		if len(candidate.Content.Parts) > 0 || candidate.FinishReason != "" {
			out.Candidates = append(out.Candidates, candidate)
		}
	}

	out.UsageMetadata = mapUsage(chunk.Usage)
	return out
}

// parseSSEStream reads SSE lines, converts each data chunk, and forwards
// non-empty canonical chunks.
func (m *OpenAI_Model) parseSSEStream(ctx context.Context, r io.Reader, respChan chan<- *models.Generate_Response, errChan chan<- error) {
	m.toolParser().Reset()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			m.flushPending(respChan)
			return
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Printf("Warning: failed to unmarshal stream chunk: %v, data: %s", err, data)
			continue
		}

		converted := m.ConvertChunk(&chunk)
		if converted.Empty() {
			continue
		}

		select {
		case respChan <- converted:
		case <-ctx.Done():
			errChan <- ctx.Err()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			errChan <- ctx.Err()
			return
		}
		errChan <- fmt.Errorf("error reading stream: %w", err)
		return
	}
	m.flushPending(respChan)
}

// flushPending sweeps tool calls still buffered when the stream ends without
// a finish chunk (some gateways close abruptly after the last delta).
func (m *OpenAI_Model) flushPending(respChan chan<- *models.Generate_Response) {
	calls := m.toolParser().CompletedCalls()
	m.toolParser().Reset()
	if len(calls) == 0 {
		return
	}
	candidate := models.Candidate{
		Content:      models.Content{Role: "model"},
		FinishReason: models.FinishReasonStop,
	}
	for _, call := range calls {
		candidate.Content.Parts = append(candidate.Content.Parts, models.Part{
			FunctionCall: &models.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
		})
	}
	respChan <- &models.Generate_Response{Candidates: []models.Candidate{candidate}}
}

// CountTokens counts request tokens with tiktoken, falling back to the
// character heuristic when the encoding is unavailable. It never fails.
func (m *OpenAI_Model) CountTokens(ctx context.Context, request *models.Generate_Request) (int, error) {
	text := request.TextForCounting()

	encoding, err := tiktoken.EncodingForModel(m.modelName())
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil || encoding == nil {
		return models.EstimateTokens(text), nil
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

func (m *OpenAI_Model) toolParser() *streaming.ToolCallParser {
	if m.parser == nil {
		m.parser = streaming.NewToolCallParser()
	}
	return m.parser
}

func (m *OpenAI_Model) baseURL() string {
	if m.BaseURL != "" {
		return m.BaseURL
	}
	return DefaultBaseURL
}

// setHeaders sets the required headers for OpenAI-compatible requests.
func (m *OpenAI_Model) setHeaders(req *http.Request) {
	apiKeyEnv := m.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	req.Header.Set("Authorization", "Bearer "+os.Getenv(apiKeyEnv))
	req.Header.Set("Content-Type", "application/json")
}

// errorBody extracts the useful part of a provider error payload.
func errorBody(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != nil && errResp.Error.Message != "" {
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return string(body)
}
