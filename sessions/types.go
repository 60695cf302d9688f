package sessions

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
	"github.com/gorilla/websocket"
)

// defaultHistoryLimit bounds how many stored messages are replayed into a
// request. Older messages stay in the store but are not sent to the model.
const defaultHistoryLimit = 200

// MemoryManager interface for dependency injection - kept minimal to avoid
// coupling sessions to any particular memory backend.
type MemoryManager interface {
	AddMemory(content string, metadata map[string]interface{}) error
	RetrieveMemories(queryText string, limit int) ([]string, error)
}

// AgentError represents errors that can occur during agent operations
type AgentError struct {
	Message string
	Fatal   bool
}

func (e *AgentError) Error() string {
	return e.Message
}

// ToolResult is one executed tool call's output, fed back to the model as a
// function response on the next iteration of the interaction loop.
type ToolResult struct {
	ID     string
	Name   string
	Output string // JSON string produced by the tool
}

// WebSocketWriter handles all WebSocket communication
type WebSocketWriter struct {
	Conn             *websocket.Conn
	Logger           *log.Logger
	StartTime        time.Time
	FirstTokenTime   *time.Time
	FirstTokenLogged bool
	mu               sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Track time to first token
	if !w.FirstTokenLogged && w.FirstTokenTime == nil && !w.StartTime.IsZero() {
		now := time.Now()
		w.FirstTokenTime = &now
		timeToFirstToken := now.Sub(w.StartTime)
		w.Logger.Printf("Time to first token: %v", timeToFirstToken)
		w.FirstTokenLogged = true
	}
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"error": message})
}

func (w *WebSocketWriter) WriteDone() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "done"})
}

// WebSocketToolResultMessage represents tool results sent over WebSocket
type WebSocketToolResultMessage struct {
	Type         string                 `json:"type"` // e.g., "tool_result"
	FunctionName string                 `json:"function_name"`
	FunctionID   string                 `json:"function_id"`
	Result       map[string]interface{} `json:"result"`      // Parsed result data
	ResultJSON   string                 `json:"result_json"` // Raw JSON string of result
}

// ResponseWaiter allows tools to wait for user input from the frontend
type ResponseWaiter struct {
	responseChan chan string
	isWaiting    bool
	mu           sync.Mutex
}

// NewResponseWaiter creates a new response waiter
func NewResponseWaiter() *ResponseWaiter {
	return &ResponseWaiter{
		responseChan: make(chan string, 1),
		isWaiting:    false,
	}
}

// WaitForResponse blocks until a response is received or the waiter is closed
func (rw *ResponseWaiter) WaitForResponse() (string, bool) {
	rw.mu.Lock()
	rw.isWaiting = true
	rw.mu.Unlock()

	defer func() {
		rw.mu.Lock()
		rw.isWaiting = false
		rw.mu.Unlock()
	}()

	response, ok := <-rw.responseChan
	return response, ok
}

// ProvideResponse provides a response from the frontend
func (rw *ResponseWaiter) ProvideResponse(response string) bool {
	// Important: do NOT require "isWaiting" to be true.
	// The frontend may ACK very quickly (e.g., Browser_Alert), and the
	// response can arrive before WaitForResponse() flips the flag. If we
	// drop that early response, the tool will hang until a timeout.
	select {
	case rw.responseChan <- response:
		return true
	default:
		// Channel full (stale response). Drop one and try again.
		select {
		case <-rw.responseChan:
		default:
		}
		select {
		case rw.responseChan <- response:
			return true
		default:
			return false
		}
	}
}

// IsWaiting returns whether the waiter is currently waiting
func (rw *ResponseWaiter) IsWaiting() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.isWaiting
}

// ToolExecutorFunc is a function type for custom tool execution
type ToolExecutorFunc func(
	functionName string,
	functionCallArgs map[string]interface{},
	agent AgentInterface,
	sessionID string,
	writer *WebSocketWriter,
	responseWaiter *ResponseWaiter,
	logger *log.Logger,
) (string, error)

// AgentSession encapsulates WebSocket agent interaction logic
type AgentSession struct {
	Agent          AgentInterface
	SessionID      string
	UserID         string // User ID for associating conversations with users
	Writer         *WebSocketWriter
	Store          stores.MessageStore
	Logger         *log.Logger
	ResponseWaiter *ResponseWaiter
	ToolExecutor   ToolExecutorFunc // Optional: custom tool executor function
	Memory         MemoryManager    // Optional: for memory storage and retrieval
}

// HTTPSession handles HTTP-based chat interactions
type HTTPSession struct {
	Agent          AgentInterface
	ConversationID string
	Store          stores.MessageStore
	Logger         *log.Logger
}

// SSEWriter handles Server-Sent Events writing
type SSEWriter interface {
	WriteSSE(data string) error
	WriteSSEError(err error) error
	Flush()
}

// AgentInterface defines the interface that agents must implement
type AgentInterface interface {
	Run(ctx context.Context, contents []models.Content) (*models.Generate_Response, error)
	Run_Stream(ctx context.Context, contents []models.Content) (<-chan *models.Generate_Response, <-chan error)
	ExecuteTool(name string, args map[string]interface{}) (string, error)
	ApproveTool(name string, args map[string]interface{}) (bool, error)
}

// ChatMessageResponse is the API shape for one stored message, returned by
// history endpoints.
type ChatMessageResponse struct {
	ID             uint        `json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ConversationID string      `json:"conversation_id"`
	Sequence       int         `json:"sequence"`
	Role           string      `json:"role"`
	Type           string      `json:"type"`
	FunctionID     string      `json:"function_id,omitempty"`
	Text           string      `json:"text"`
	Parts          interface{} `json:"parts,omitempty"`
}
