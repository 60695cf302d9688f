package genflow

import (
	"github.com/Desarso/genflow/sessions"
	"github.com/Desarso/genflow/stores"
	"github.com/gorilla/websocket"
)

// Re-export session types so callers can stay on the root package
type AgentSession = sessions.AgentSession
type HTTPSession = sessions.HTTPSession
type WebSocketWriter = sessions.WebSocketWriter
type WebSocketToolResultMessage = sessions.WebSocketToolResultMessage
type AgentError = sessions.AgentError
type SSEWriter = sessions.SSEWriter
type ResponseWaiter = sessions.ResponseWaiter
type AgentInterface = sessions.AgentInterface
type ToolExecutorFunc = sessions.ToolExecutorFunc
type MemoryManager = sessions.MemoryManager
type ToolResult = sessions.ToolResult

// Re-export constructor functions
func NewAgentSession(sessionID string, conn *websocket.Conn, agent *Agent, store stores.MessageStore) *AgentSession {
	return sessions.NewAgentSession(sessionID, conn, agent, store)
}

func NewHTTPSession(conversationID string, agent *Agent, store stores.MessageStore) *HTTPSession {
	return sessions.NewHTTPSession(conversationID, agent, store)
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return sessions.NewConversationID()
}
