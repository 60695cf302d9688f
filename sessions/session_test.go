package sessions

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
)

// memStore is an in-memory MessageStore for session tests.
type memStore struct {
	msgs []stores.Message
}

func (s *memStore) SaveMessage(sessionID, role, messageType string, parts interface{}, functionID string) error {
	data, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	s.msgs = append(s.msgs, stores.Message{
		ConversationID: sessionID,
		Sequence:       len(s.msgs),
		Role:           role,
		Type:           messageType,
		FunctionID:     functionID,
		PartsJSON:      string(data),
	})
	return nil
}

func (s *memStore) FetchHistory(sessionID string, limit int) ([]stores.Message, error) {
	out := make([]stores.Message, len(s.msgs))
	copy(out, s.msgs)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CreateConversation(convoID, userID string) error { return nil }
func (s *memStore) ListConversations() ([]string, error)            { return nil, nil }
func (s *memStore) ListConversationsForUser(userID string) ([]stores.ConversationInfo, error) {
	return nil, nil
}
func (s *memStore) PruneOlderThan(cutoff time.Time) (int64, error) { return 0, nil }
func (s *memStore) Connect() error                                 { return nil }
func (s *memStore) Close() error                                   { return nil }
func (s *memStore) Ping() error                                    { return nil }

// fakeAgent returns scripted responses, one per Run/Run_Stream call.
type fakeAgent struct {
	responses []*models.Generate_Response
	calls     int
	executed  []string
}

func (a *fakeAgent) next() *models.Generate_Response {
	resp := a.responses[a.calls]
	a.calls++
	return resp
}

func (a *fakeAgent) Run(ctx context.Context, contents []models.Content) (*models.Generate_Response, error) {
	return a.next(), nil
}

func (a *fakeAgent) Run_Stream(ctx context.Context, contents []models.Content) (<-chan *models.Generate_Response, <-chan error) {
	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)
	resp := a.next()
	go func() {
		defer close(respChan)
		defer close(errChan)
		respChan <- resp
	}()
	return respChan, errChan
}

func (a *fakeAgent) ExecuteTool(name string, args map[string]interface{}) (string, error) {
	a.executed = append(a.executed, name)
	return `{"result": "72F"}`, nil
}

func (a *fakeAgent) ApproveTool(name string, args map[string]interface{}) (bool, error) {
	return true, nil
}

func textResponse(text string) *models.Generate_Response {
	return &models.Generate_Response{
		Candidates: []models.Candidate{{
			Content:      models.Content{Role: "model", Parts: []models.Part{{Text: text}}},
			FinishReason: models.FinishReasonStop,
		}},
	}
}

func callResponse(name string, args map[string]interface{}) *models.Generate_Response {
	return &models.Generate_Response{
		Candidates: []models.Candidate{{
			Content: models.Content{Role: "model", Parts: []models.Part{
				{FunctionCall: &models.FunctionCall{Name: name, Args: args}},
			}},
			FinishReason: models.FinishReasonStop,
		}},
	}
}

func testSession(agent AgentInterface, store stores.MessageStore) *HTTPSession {
	return &HTTPSession{
		Agent:          agent,
		ConversationID: "conv-test",
		Store:          store,
		Logger:         log.New(os.Stderr, "[test] ", 0),
	}
}

func TestMessageTypeOf(t *testing.T) {
	userTurn := models.Content{Role: "user", Parts: []models.Part{{Text: "hi"}}}
	if msgType, _ := messageTypeOf(userTurn); msgType != stores.TypeUserMessage {
		t.Errorf("expected user_message, got %s", msgType)
	}

	modelTurn := models.Content{Role: "model", Parts: []models.Part{{Text: "hello"}}}
	if msgType, _ := messageTypeOf(modelTurn); msgType != stores.TypeModelMessage {
		t.Errorf("expected model_message, got %s", msgType)
	}

	callTurn := models.Content{Role: "model", Parts: []models.Part{
		{Text: "checking"},
		{FunctionCall: &models.FunctionCall{ID: "call_1", Name: "get_weather"}},
	}}
	msgType, functionID := messageTypeOf(callTurn)
	if msgType != stores.TypeFunctionCall {
		t.Errorf("expected function_call, got %s", msgType)
	}
	if functionID != "call_1" {
		t.Errorf("expected function ID call_1, got %s", functionID)
	}

	responseTurn := models.Content{Role: "user", Parts: []models.Part{
		{FunctionResponse: &models.FunctionResponse{ID: "call_1", Name: "get_weather"}},
	}}
	if msgType, _ := messageTypeOf(responseTurn); msgType != stores.TypeFunctionResponse {
		t.Errorf("expected function_response, got %s", msgType)
	}
}

func TestToolResultsContent(t *testing.T) {
	logger := log.New(os.Stderr, "", 0)
	content := toolResultsContent([]ToolResult{
		{ID: "call_1", Name: "get_weather", Output: `{"result": "72F"}`},
		{ID: "call_2", Name: "misbehave", Output: "not json"},
	}, logger)

	if content.Role != "user" {
		t.Errorf("expected user role, got %s", content.Role)
	}
	if len(content.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(content.Parts))
	}
	if content.Parts[0].FunctionResponse.Response["result"] != "72F" {
		t.Errorf("unexpected response payload: %v", content.Parts[0].FunctionResponse.Response)
	}
	if content.Parts[1].FunctionResponse.Response["raw_output"] != "not json" {
		t.Errorf("non-JSON output should be wrapped as raw_output, got %v", content.Parts[1].FunctionResponse.Response)
	}
}

func TestSingleInteractionTextOnly(t *testing.T) {
	agent := &fakeAgent{responses: []*models.Generate_Response{textResponse("hello there")}}
	store := &memStore{}
	session := testSession(agent, store)

	resp, err := session.RunSingleInteraction(context.Background(), models.UserContent("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "hello there" {
		t.Errorf("expected final text 'hello there', got %q", resp.Text())
	}
	if len(store.msgs) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(store.msgs))
	}
	if store.msgs[0].Type != stores.TypeUserMessage || store.msgs[1].Type != stores.TypeModelMessage {
		t.Errorf("unexpected row types: %s, %s", store.msgs[0].Type, store.msgs[1].Type)
	}
}

func TestSingleInteractionToolLoop(t *testing.T) {
	agent := &fakeAgent{responses: []*models.Generate_Response{
		callResponse("get_weather", map[string]interface{}{"input": "SF"}),
		textResponse("It is 72F in SF."),
	}}
	store := &memStore{}
	session := testSession(agent, store)

	resp, err := session.RunSingleInteraction(context.Background(), models.UserContent("weather in SF?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "It is 72F in SF." {
		t.Errorf("expected final text, got %q", resp.Text())
	}
	if len(agent.executed) != 1 || agent.executed[0] != "get_weather" {
		t.Errorf("expected one get_weather execution, got %v", agent.executed)
	}

	// user_message, function_call, function_response, model_message
	wantTypes := []string{
		stores.TypeUserMessage,
		stores.TypeFunctionCall,
		stores.TypeFunctionResponse,
		stores.TypeModelMessage,
	}
	if len(store.msgs) != len(wantTypes) {
		t.Fatalf("expected %d stored rows, got %d", len(wantTypes), len(store.msgs))
	}
	for i, want := range wantTypes {
		if store.msgs[i].Type != want {
			t.Errorf("row %d: expected type %s, got %s", i, want, store.msgs[i].Type)
		}
	}
	// The call row got an assigned ID and the response row links to it.
	if store.msgs[1].FunctionID == "" {
		t.Error("function_call row should carry a function ID")
	}
	if store.msgs[2].FunctionID != store.msgs[1].FunctionID {
		t.Errorf("function_response should link to the call: %q vs %q", store.msgs[2].FunctionID, store.msgs[1].FunctionID)
	}
}

func TestStreamInteractionForwardsChunksAndRunsTools(t *testing.T) {
	agent := &fakeAgent{responses: []*models.Generate_Response{
		callResponse("get_weather", map[string]interface{}{"input": "SF"}),
		textResponse("It is 72F in SF."),
	}}
	store := &memStore{}
	session := testSession(agent, store)

	respChan, errChan := session.RunStreamInteraction(context.Background(), models.UserContent("weather in SF?"))

	var chunks []*models.Generate_Response
	for chunk := range respChan {
		chunks = append(chunks, chunk)
	}
	if err := <-errChan; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 forwarded chunks, got %d", len(chunks))
	}
	if len(agent.executed) != 1 {
		t.Errorf("expected one tool execution, got %v", agent.executed)
	}
	if chunks[1].Text() != "It is 72F in SF." {
		t.Errorf("unexpected final chunk text: %q", chunks[1].Text())
	}
}

func TestGetChatHistory(t *testing.T) {
	store := &memStore{}
	if err := store.SaveMessage("conv-test", "user", stores.TypeUserMessage, []models.Part{{Text: "hi"}}, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMessage("conv-test", "model", stores.TypeModelMessage, []models.Part{{Text: "hello "}, {Text: "there"}}, ""); err != nil {
		t.Fatal(err)
	}

	session := testSession(&fakeAgent{}, store)
	history, err := session.GetChatHistory()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[1].Text != "hello there" {
		t.Errorf("expected concatenated text, got %q", history[1].Text)
	}
}

func TestExecuteToolWithContextRoutesToAgent(t *testing.T) {
	agent := &fakeAgent{}
	session := &AgentSession{Agent: agent, Logger: log.New(os.Stderr, "", 0)}

	out, err := session.ExecuteToolWithContext("GetWeather", map[string]interface{}{"input": "SF"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"result": "72F"}` {
		t.Errorf("unexpected output %q", out)
	}
	if len(agent.executed) != 1 || agent.executed[0] != "GetWeather" {
		t.Errorf("expected GetWeather to reach the agent executor, got %v", agent.executed)
	}
}

func TestSingleStringArg(t *testing.T) {
	if got, err := singleStringArg("Browser_Prompt", map[string]interface{}{"message": "hi"}); err != nil || got != "hi" {
		t.Errorf("got (%q, %v), want (\"hi\", nil)", got, err)
	}
	if _, err := singleStringArg("Browser_Prompt", map[string]interface{}{}); err == nil {
		t.Error("expected error for missing argument")
	}
	if _, err := singleStringArg("Browser_Prompt", map[string]interface{}{"a": "x", "b": "y"}); err == nil {
		t.Error("expected error for extra arguments")
	}
	if _, err := singleStringArg("Browser_Prompt", map[string]interface{}{"message": 7}); err == nil {
		t.Error("expected error for non-string argument")
	}
}
