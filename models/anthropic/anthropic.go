package anthropic

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
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1/messages"
	DefaultAPIVersion = "2023-06-01"
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultMaxTokens  = 4096
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Anthropic_Model implements the genflow Provider interface for the
// Anthropic Messages API. Model-level sampling fields take precedence over
// the per-request config.
//
// A single instance must not run two streams concurrently: the tool-call
// parser is instance-scoped and is reset at the start of every stream.
type Anthropic_Model struct {
	Model       string
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
	BaseURL     string // Optional: custom API endpoint
	APIKeyEnv   string // Optional: env var name for API key (defaults to ANTHROPIC_API_KEY)

	parser *streaming.ToolCallParser
}

func (a *Anthropic_Model) Name() string { return "anthropic" }

func (a *Anthropic_Model) modelName() string {
	if a.Model != "" {
		return a.Model
	}
	return DefaultModel
}

// Generate implements the Provider interface for non-streaming requests.
func (a *Anthropic_Model) Generate(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error) {
	anthropicReq, err := a.BuildRequest(request, false)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL(), bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	a.setHeaders(req)

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

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return a.ConvertResponse(&anthropicResp), nil
}

// GenerateStream implements the Provider interface for streaming requests.
func (a *Anthropic_Model) GenerateStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error) {
	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		anthropicReq, err := a.BuildRequest(request, true)
		if err != nil {
			errChan <- err
			return
		}

		jsonBytes, err := json.Marshal(anthropicReq)
		if err != nil {
			errChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL(), bytes.NewReader(jsonBytes))
		if err != nil {
			errChan <- fmt.Errorf("failed to create HTTP request: %w", err)
			return
		}
		a.setHeaders(req)

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

		a.parseSSEStream(ctx, resp.Body, respChan, errChan)
	}()

	return respChan, errChan
}

// BuildRequest constructs the Messages API request from the canonical shape.
func (a *Anthropic_Model) BuildRequest(request *models.Generate_Request, stream bool) (*AnthropicRequest, error) {
	messages := []AnthropicMsg{}

	for _, content := range request.Contents {
		msg := convertContent(content)
		if msg != nil {
			messages = append(messages, *msg)
		}
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("cannot create Anthropic request with no messages")
	}

	// Anthropic requires strictly alternating user/assistant roles.
	messages = mergeConsecutiveMessages(messages)

	req := &AnthropicRequest{
		Model:     a.modelName(),
		MaxTokens: DefaultMaxTokens,
		Messages:  messages,
		System:    request.SystemInstruction,
		Stream:    stream,
	}
	if request.Model != "" {
		req.Model = request.Model
	}

	if len(request.Tools) > 0 {
		req.Tools = ConvertToAnthropicTools(request.Tools)
	}

	applySampling(req, a, request.Config)

	return req, nil
}

func applySampling(req *AnthropicRequest, a *Anthropic_Model, cfg *models.GenerateConfig) {
	if cfg != nil {
		req.Temperature = cfg.Temperature
		req.TopP = cfg.TopP
		req.TopK = cfg.TopK
		if cfg.MaxOutputTokens != nil {
			req.MaxTokens = *cfg.MaxOutputTokens
		}
	}
	if a.Temperature != nil {
		req.Temperature = a.Temperature
	}
	if a.TopP != nil {
		req.TopP = a.TopP
	}
	if a.TopK != nil {
		req.TopK = a.TopK
	}
	if a.MaxTokens != nil {
		req.MaxTokens = *a.MaxTokens
	}
}

// convertContent maps one canonical turn to an Anthropic message. Thought
// parts become thinking blocks (with their signature echoed back), function
// calls become tool_use, and function responses become tool_result blocks
// in a user message.
func convertContent(content models.Content) *AnthropicMsg {
	role := "user"
	if content.Role == "model" {
		role = "assistant"
	}

	var blocks []ContentBlock
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			blocks = append(blocks, ContentBlock{
				Type:  "tool_use",
				ID:    part.FunctionCall.ID,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		case part.FunctionResponse != nil:
			responseBytes, _ := json.Marshal(part.FunctionResponse.Response)
			blocks = append(blocks, ContentBlock{
				Type:      "tool_result",
				ToolUseID: part.FunctionResponse.ID,
				Content:   string(responseBytes),
			})
		case part.InlineData != nil:
			blocks = append(blocks, ContentBlock{
				Type: "image",
				Source: &ImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})
		case part.Thought:
			blocks = append(blocks, ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: part.ThoughtSignature,
			})
		case part.Text != "":
			blocks = append(blocks, ContentBlock{Type: "text", Text: part.Text})
		}
	}

	if len(blocks) == 0 {
		return nil
	}
	return &AnthropicMsg{Role: role, Content: blocks}
}

// mergeConsecutiveMessages merges consecutive messages with the same role.
func mergeConsecutiveMessages(messages []AnthropicMsg) []AnthropicMsg {
	if len(messages) <= 1 {
		return messages
	}

	var result []AnthropicMsg
	for _, msg := range messages {
		if len(result) > 0 && result[len(result)-1].Role == msg.Role {
			prev := &result[len(result)-1]
			prev.Content = append(toContentBlocks(prev.Content), toContentBlocks(msg.Content)...)
		} else {
			result = append(result, msg)
		}
	}
	return result
}

// toContentBlocks converts a message content (string or []ContentBlock) to []ContentBlock.
func toContentBlocks(content interface{}) []ContentBlock {
	switch v := content.(type) {
	case string:
		return []ContentBlock{{Type: "text", Text: v}}
	case []ContentBlock:
		return v
	default:
		b, _ := json.Marshal(v)
		var blocks []ContentBlock
		if json.Unmarshal(b, &blocks) == nil {
			return blocks
		}
		return nil
	}
}

// ConvertResponse maps a full Messages API response to the canonical shape.
func (a *Anthropic_Model) ConvertResponse(resp *AnthropicResponse) *models.Generate_Response {
	candidate := models.Candidate{
		Content:      models.Content{Role: "model"},
		FinishReason: mapStopReason(resp.StopReason),
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				candidate.Content.Parts = append(candidate.Content.Parts, models.TextPart(block.Text))
			}
		case "thinking":
			candidate.Content.Parts = append(candidate.Content.Parts, models.ThoughtPart(block.Thinking, block.Signature))
		case "tool_use":
			candidate.Content.Parts = append(candidate.Content.Parts, models.Part{
				FunctionCall: &models.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: toArgsMap(block.Input),
				},
			})
		}
	}

	return &models.Generate_Response{
		ResponseID:    resp.ID,
		Model:         resp.Model,
		Candidates:    []models.Candidate{candidate},
		UsageMetadata: mapUsage(resp.Usage, 0),
	}
}

// toArgsMap normalizes a tool_use input (map or raw JSON) to a map.
func toArgsMap(input interface{}) map[string]interface{} {
	switch v := input.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return v
	default:
		b, _ := json.Marshal(v)
		args := map[string]interface{}{}
		json.Unmarshal(b, &args)
		return args
	}
}

// streamEvent is the envelope shared by all Messages API SSE events.
type streamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message"`
	ContentBlock json.RawMessage `json:"content_block"`
	Delta        json.RawMessage `json:"delta"`
	Usage        *Usage          `json:"usage"`
}

// parseSSEStream reads Messages API events and forwards canonical chunks.
// Tool-use input arrives as input_json_delta fragments routed through the
// tool-call parser; each call is emitted on its content_block_stop.
func (a *Anthropic_Model) parseSSEStream(ctx context.Context, r io.Reader, respChan chan<- *models.Generate_Response, errChan chan<- error) {
	a.toolParser().Reset()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var responseID, model string
	promptTokens := 0

	send := func(chunk *models.Generate_Response) bool {
		chunk.ResponseID = responseID
		chunk.Model = model
		select {
		case respChan <- chunk:
			return true
		case <-ctx.Done():
			errChan <- ctx.Err()
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case EventMessageStart:
			var msg struct {
				ID    string `json:"id"`
				Model string `json:"model"`
				Usage Usage  `json:"usage"`
			}
			if event.Message != nil {
				json.Unmarshal(event.Message, &msg)
				responseID = msg.ID
				model = msg.Model
				promptTokens = msg.Usage.InputTokens
			}

		case EventContentBlockStart:
			if event.ContentBlock == nil {
				continue
			}
			var block ContentBlock
			json.Unmarshal(event.ContentBlock, &block)
			if block.Type == "tool_use" {
				a.toolParser().AddChunk(event.Index, "", block.ID, block.Name)
			}

		case EventContentBlockDelta:
			if event.Delta == nil {
				continue
			}
			var delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				Thinking    string `json:"thinking"`
				Signature   string `json:"signature"`
				PartialJSON string `json:"partial_json"`
			}
			json.Unmarshal(event.Delta, &delta)

			switch delta.Type {
			case DeltaText:
				if delta.Text == "" {
					continue
				}
				if !send(chunkWithParts(models.TextPart(delta.Text))) {
					return
				}
			case DeltaThinking:
				if delta.Thinking == "" {
					continue
				}
				if !send(chunkWithParts(models.ThoughtPart(delta.Thinking, ""))) {
					return
				}
			case DeltaSignature:
				// Signature continuation for the current thinking block:
				// an empty thought part carrying only the signature.
				if !send(chunkWithParts(models.ThoughtPart("", delta.Signature))) {
					return
				}
			case DeltaInputJSON:
				res := a.toolParser().AddChunk(event.Index, delta.PartialJSON, "", "")
				if res.Err != nil {
					log.Printf("Warning: %v", res.Err)
				}
			}

		case EventContentBlockStop:
			call, ok := a.toolParser().Finalize(event.Index)
			if !ok {
				continue
			}
			part := models.Part{
				FunctionCall: &models.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
			}
			if !send(chunkWithParts(part)) {
				return
			}

		case EventMessageDelta:
			var delta struct {
				StopReason string `json:"stop_reason"`
			}
			if event.Delta != nil {
				json.Unmarshal(event.Delta, &delta)
			}
			chunk := &models.Generate_Response{
				Candidates: []models.Candidate{{
					Content:      models.Content{Role: "model"},
					FinishReason: mapStopReason(delta.StopReason),
				}},
			}
			if event.Usage != nil {
				chunk.UsageMetadata = mapUsage(*event.Usage, promptTokens)
			}
			if !send(chunk) {
				return
			}

		case EventMessageStop:
			a.toolParser().Reset()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			errChan <- ctx.Err()
			return
		}
		errChan <- fmt.Errorf("error reading stream: %w", err)
	}
}

func chunkWithParts(parts ...models.Part) *models.Generate_Response {
	return &models.Generate_Response{
		Candidates: []models.Candidate{{
			Content: models.Content{Role: "model", Parts: parts},
		}},
	}
}

// CountTokens uses the character heuristic; the Messages API has no local
// tokenizer. It never fails.
func (a *Anthropic_Model) CountTokens(ctx context.Context, request *models.Generate_Request) (int, error) {
	return models.EstimateTokens(request.TextForCounting()), nil
}

func (a *Anthropic_Model) toolParser() *streaming.ToolCallParser {
	if a.parser == nil {
		a.parser = streaming.NewToolCallParser()
	}
	return a.parser
}

func (a *Anthropic_Model) baseURL() string {
	if a.BaseURL != "" {
		return a.BaseURL
	}
	return DefaultBaseURL
}

// setHeaders sets required headers for Anthropic API requests.
func (a *Anthropic_Model) setHeaders(req *http.Request) {
	apiKeyEnv := a.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", os.Getenv(apiKeyEnv))
	req.Header.Set("anthropic-version", DefaultAPIVersion)
}

// errorBody extracts the useful part of an error payload.
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
