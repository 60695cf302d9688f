package anthropic

import (
	"context"
	"strings"
	"testing"

	"github.com/Desarso/genflow/models"
)

func ptrFloat(f float64) *float64 { return &f }
func ptrInt(i int) *int           { return &i }

func TestBuildRequestBasic(t *testing.T) {
	model := &Anthropic_Model{Model: "claude-sonnet-4-20250514"}
	req, err := model.BuildRequest(&models.Generate_Request{
		SystemInstruction: "You are helpful.",
		Contents: []models.Content{
			models.UserContent("Hello"),
		},
	}, false)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if req.Model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model claude-sonnet-4-20250514, got %s", req.Model)
	}
	if req.System != "You are helpful." {
		t.Errorf("expected system instruction, got %q", req.System)
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens %d, got %d", DefaultMaxTokens, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("expected one user message, got %+v", req.Messages)
	}
}

func TestBuildRequestEmptyContents(t *testing.T) {
	model := &Anthropic_Model{}
	if _, err := model.BuildRequest(&models.Generate_Request{}, false); err == nil {
		t.Error("expected error for request with no messages")
	}
}

func TestBuildRequestSamplingPrecedence(t *testing.T) {
	model := &Anthropic_Model{Temperature: ptrFloat(0.2), MaxTokens: ptrInt(128)}
	req, err := model.BuildRequest(&models.Generate_Request{
		Contents: []models.Content{models.UserContent("hi")},
		Config: &models.GenerateConfig{
			Temperature:     ptrFloat(0.9),
			TopK:            ptrInt(40),
			MaxOutputTokens: ptrInt(4000),
		},
	}, false)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("model temperature should win over config, got %v", req.Temperature)
	}
	if req.TopK == nil || *req.TopK != 40 {
		t.Errorf("config top_k should pass through, got %v", req.TopK)
	}
	if req.MaxTokens != 128 {
		t.Errorf("model max tokens should win, got %d", req.MaxTokens)
	}
}

func TestBuildRequestMergesConsecutiveRoles(t *testing.T) {
	model := &Anthropic_Model{}
	req, err := model.BuildRequest(&models.Generate_Request{
		Contents: []models.Content{
			models.UserContent("first"),
			models.UserContent("second"),
			{Role: "model", Parts: []models.Part{models.TextPart("reply")}},
		},
	}, false)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected consecutive user messages merged into 2 total, got %d", len(req.Messages))
	}
	blocks := toContentBlocks(req.Messages[0].Content)
	if len(blocks) != 2 {
		t.Errorf("expected merged message with 2 blocks, got %d", len(blocks))
	}
}

func TestBuildRequestThinkingRoundTrip(t *testing.T) {
	model := &Anthropic_Model{}
	req, err := model.BuildRequest(&models.Generate_Request{
		Contents: []models.Content{
			models.UserContent("question"),
			{Role: "model", Parts: []models.Part{
				models.ThoughtPart("let me think", "sig123"),
				models.TextPart("answer"),
			}},
			models.UserContent("follow up"),
		},
	}, false)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	blocks := toContentBlocks(req.Messages[1].Content)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 assistant blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "thinking" || blocks[0].Thinking != "let me think" || blocks[0].Signature != "sig123" {
		t.Errorf("thinking block not preserved: %+v", blocks[0])
	}
}

func TestBuildRequestToolRoundTrip(t *testing.T) {
	model := &Anthropic_Model{}
	req, err := model.BuildRequest(&models.Generate_Request{
		Contents: []models.Content{
			models.UserContent("weather?"),
			{Role: "model", Parts: []models.Part{{
				FunctionCall: &models.FunctionCall{
					ID:   "toolu_1",
					Name: "get_weather",
					Args: map[string]interface{}{"city": "SF"},
				},
			}}},
			{Role: "user", Parts: []models.Part{{
				FunctionResponse: &models.FunctionResponse{
					ID:       "toolu_1",
					Name:     "get_weather",
					Response: map[string]interface{}{"temp": 65},
				},
			}}},
		},
	}, false)
	if err != nil {
		t.Fatalf("BuildRequest failed: %v", err)
	}
	asst := toContentBlocks(req.Messages[1].Content)
	if asst[0].Type != "tool_use" || asst[0].ID != "toolu_1" || asst[0].Name != "get_weather" {
		t.Errorf("tool_use block wrong: %+v", asst[0])
	}
	user := toContentBlocks(req.Messages[2].Content)
	if user[0].Type != "tool_result" || user[0].ToolUseID != "toolu_1" {
		t.Errorf("tool_result block wrong: %+v", user[0])
	}
}

func TestConvertResponse(t *testing.T) {
	model := &Anthropic_Model{}
	resp := model.ConvertResponse(&AnthropicResponse{
		ID:    "msg_1",
		Model: "claude-sonnet-4-20250514",
		Content: []ContentBlock{
			{Type: "thinking", Thinking: "hmm", Signature: "sig"},
			{Type: "text", Text: "Hello!"},
			{Type: "tool_use", ID: "toolu_1", Name: "search", Input: map[string]interface{}{"q": "go"}},
		},
		StopReason: "tool_use",
		Usage:      Usage{InputTokens: 10, OutputTokens: 20, CacheReadInputTokens: 4},
	})
	if resp.ResponseID != "msg_1" {
		t.Errorf("expected response ID msg_1, got %s", resp.ResponseID)
	}
	if resp.FinishReason() != models.FinishReasonStop {
		t.Errorf("tool_use should map to STOP, got %s", resp.FinishReason())
	}
	if resp.Text() != "Hello!" {
		t.Errorf("Text() should skip thoughts, got %q", resp.Text())
	}
	parts := resp.Parts()
	if len(parts) != 3 || !parts[0].Thought || parts[0].ThoughtSignature != "sig" {
		t.Errorf("thinking part not converted: %+v", parts)
	}
	calls := resp.FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "search" || calls[0].Args["q"] != "go" {
		t.Errorf("function call not converted: %+v", calls)
	}
	if resp.UsageMetadata.TotalTokenCount != 30 || resp.UsageMetadata.CachedContentTokenCount != 4 {
		t.Errorf("usage wrong: %+v", resp.UsageMetadata)
	}
}

// collectStream runs parseSSEStream over scripted SSE data and gathers chunks.
func collectStream(t *testing.T, sse string) []*models.Generate_Response {
	t.Helper()
	model := &Anthropic_Model{}
	respChan := make(chan *models.Generate_Response, 32)
	errChan := make(chan error, 1)

	model.parseSSEStream(context.Background(), strings.NewReader(sse), respChan, errChan)
	close(respChan)
	close(errChan)

	if err := <-errChan; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	var chunks []*models.Generate_Response
	for chunk := range respChan {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func sseLines(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: " + e + "\n\n")
	}
	return b.String()
}

func TestStreamTextAndFinish(t *testing.T) {
	chunks := collectStream(t, sseLines(
		`{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-20250514","usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks (2 text + finish), got %d", len(chunks))
	}
	if chunks[0].Text() != "Hel" || chunks[1].Text() != "lo" {
		t.Errorf("text deltas wrong: %q %q", chunks[0].Text(), chunks[1].Text())
	}
	if chunks[0].ResponseID != "msg_1" {
		t.Errorf("chunk should carry message ID, got %s", chunks[0].ResponseID)
	}
	final := chunks[2]
	if final.FinishReason() != models.FinishReasonStop {
		t.Errorf("expected STOP, got %s", final.FinishReason())
	}
	if final.UsageMetadata == nil || final.UsageMetadata.PromptTokenCount != 12 ||
		final.UsageMetadata.CandidatesTokenCount != 5 || final.UsageMetadata.TotalTokenCount != 17 {
		t.Errorf("usage should merge message_start input tokens: %+v", final.UsageMetadata)
	}
}

func TestStreamThinkingDeltas(t *testing.T) {
	chunks := collectStream(t, sseLines(
		`{"type":"message_start","message":{"id":"msg_2","model":"m","usage":{"input_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"reasoning..."}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sigABC"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
		`{"type":"message_stop"}`,
	))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	first := chunks[0].Parts()
	if len(first) != 1 || !first[0].Thought || first[0].Text != "reasoning..." {
		t.Errorf("thinking delta wrong: %+v", first)
	}
	sig := chunks[1].Parts()
	if len(sig) != 1 || !sig[0].Thought || sig[0].ThoughtSignature != "sigABC" {
		t.Errorf("signature delta wrong: %+v", sig)
	}
	if chunks[0].Text() != "" {
		t.Errorf("Text() must not include thoughts, got %q", chunks[0].Text())
	}
}

func TestStreamToolCallAcrossDeltas(t *testing.T) {
	chunks := collectStream(t, sseLines(
		`{"type":"message_start","message":{"id":"msg_3","model":"m","usage":{"input_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"get_weather"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\": \"San"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":" Francisco\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}`,
		`{"type":"message_stop"}`,
	))
	if len(chunks) != 2 {
		t.Fatalf("expected tool call chunk + finish chunk, got %d", len(chunks))
	}
	calls := chunks[0].FunctionCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 function call, got %d", len(calls))
	}
	if calls[0].ID != "toolu_9" || calls[0].Name != "get_weather" {
		t.Errorf("call identity wrong: %+v", calls[0])
	}
	if calls[0].Args["city"] != "San Francisco" {
		t.Errorf("fragmented args not reassembled: %+v", calls[0].Args)
	}
	if chunks[1].FinishReason() != models.FinishReasonStop {
		t.Errorf("tool_use stop should map to STOP, got %s", chunks[1].FinishReason())
	}
}

func TestStreamZeroArgToolCall(t *testing.T) {
	chunks := collectStream(t, sseLines(
		`{"type":"message_start","message":{"id":"msg_4","model":"m","usage":{"input_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_0","name":"list_files"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":1}}`,
		`{"type":"message_stop"}`,
	))
	if len(chunks) != 2 {
		t.Fatalf("expected tool call + finish, got %d", len(chunks))
	}
	calls := chunks[0].FunctionCalls()
	if len(calls) != 1 || calls[0].Name != "list_files" {
		t.Fatalf("zero-arg tool call dropped: %+v", chunks[0].Parts())
	}
	if len(calls[0].Args) != 0 {
		t.Errorf("expected empty args, got %+v", calls[0].Args)
	}
}

func TestStreamParallelToolCalls(t *testing.T) {
	chunks := collectStream(t, sseLines(
		`{"type":"message_start","message":{"id":"msg_5","model":"m","usage":{"input_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_a","name":"alpha"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"x\":1}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_b","name":"beta"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"y\":2}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":4}}`,
		`{"type":"message_stop"}`,
	))
	if len(chunks) != 3 {
		t.Fatalf("expected 2 tool chunks + finish, got %d", len(chunks))
	}
	a := chunks[0].FunctionCalls()
	b := chunks[1].FunctionCalls()
	if len(a) != 1 || a[0].Name != "alpha" || len(b) != 1 || b[0].Name != "beta" {
		t.Errorf("parallel calls wrong: %+v / %+v", a, b)
	}
}

func TestStreamContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &Anthropic_Model{}
	respChan := make(chan *models.Generate_Response) // unbuffered, nobody reading
	errChan := make(chan error, 1)

	sse := sseLines(
		`{"type":"message_start","message":{"id":"msg_6","model":"m","usage":{"input_tokens":1}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"blocked"}}`,
	)
	model.parseSSEStream(ctx, strings.NewReader(sse), respChan, errChan)

	select {
	case err := <-errChan:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	default:
		t.Error("expected cancellation error on errChan")
	}
}

func TestMapStopReasonUnknown(t *testing.T) {
	if got := mapStopReason("brand_new_reason"); got != models.FinishReasonUnspecified {
		t.Errorf("unknown reason should map to UNSPECIFIED, got %s", got)
	}
	if got := mapStopReason(""); got != "" {
		t.Errorf("empty reason should stay empty, got %s", got)
	}
}

func TestCountTokensNeverFails(t *testing.T) {
	model := &Anthropic_Model{}
	n, err := model.CountTokens(context.Background(), &models.Generate_Request{
		SystemInstruction: "be terse",
		Contents:          []models.Content{models.UserContent("count me")},
	})
	if err != nil {
		t.Fatalf("CountTokens should not fail: %v", err)
	}
	if n <= 0 {
		t.Errorf("expected positive estimate, got %d", n)
	}
}
