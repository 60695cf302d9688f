package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Desarso/genflow/models"
	"gorm.io/gorm"
)

// Message kinds. A turn is stored as one row per logical step so tool cycles
// can be validated and repaired independently of the surrounding text.
const (
	TypeUserMessage      = "user_message"
	TypeModelMessage     = "model_message"
	TypeFunctionCall     = "function_call"
	TypeFunctionResponse = "function_response"
)

// Message is one stored conversation step. PartsJSON holds the canonical
// parts ([]models.Part) serialized as JSON, so history replays into a
// request without translation.
type Message struct {
	gorm.Model
	ConversationID string `gorm:"index;not null"`
	Sequence       int    `gorm:"not null"`
	Role           string `gorm:"not null"` // "user" or "model"
	Type           string `gorm:"not null"`
	// FunctionID links a function_response row back to its function_call.
	FunctionID string `gorm:"index" json:"function_id,omitempty"`
	PartsJSON  string `gorm:"type:json"`
}

// Parts decodes the stored canonical parts.
func (m *Message) Parts() ([]models.Part, error) {
	if m.PartsJSON == "" || m.PartsJSON == "null" || m.PartsJSON == "{}" {
		return nil, nil
	}
	var parts []models.Part
	if err := json.Unmarshal([]byte(m.PartsJSON), &parts); err != nil {
		return nil, fmt.Errorf("failed to decode parts for message %d: %w", m.ID, err)
	}
	return parts, nil
}

// Content rebuilds the canonical turn for this message.
func (m *Message) Content() (models.Content, error) {
	parts, err := m.Parts()
	if err != nil {
		return models.Content{}, err
	}
	return models.Content{Role: m.Role, Parts: parts}, nil
}

// HistoryToContents replays stored messages into canonical contents,
// skipping rows whose parts cannot be decoded.
func HistoryToContents(msgs []Message) []models.Content {
	contents := make([]models.Content, 0, len(msgs))
	for i := range msgs {
		content, err := msgs[i].Content()
		if err != nil || len(content.Parts) == 0 {
			continue
		}
		contents = append(contents, content)
	}
	return contents
}

// Conversation holds metadata for a chat conversation.
type Conversation struct {
	gorm.Model
	ConversationID string    `gorm:"uniqueIndex;not null"`
	UserID         string    `gorm:"index;not null"`
	Title          string    `gorm:"type:text"`
	MessageCount   int       `gorm:"default:0"`
	Messages       []Message `gorm:"foreignKey:ConversationID;references:ConversationID"`
}

// ConversationInfo holds basic conversation metadata for listing
type ConversationInfo struct {
	ConversationID string
	UserID         string
	Title          string
	MessageCount   int
	CreatedAt      string
	UpdatedAt      string
}

// MessageStore interface for abstracting database operations
type MessageStore interface {
	// Message operations
	SaveMessage(sessionID, role, messageType string, parts interface{}, functionID string) error
	FetchHistory(sessionID string, limit int) ([]Message, error)

	// Conversation operations
	CreateConversation(convoID, userID string) error
	ListConversations() ([]string, error)
	ListConversationsForUser(userID string) ([]ConversationInfo, error)

	// Retention
	PruneOlderThan(cutoff time.Time) (int64, error)

	// Connection management
	Connect() error
	Close() error

	// Health check
	Ping() error
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite", "postgres"
	Connection string            `json:"connection"` // connection string
	Options    map[string]string `json:"options"`    // additional options
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	c.Options[key] = value
	return c
}
