package stores

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GenerationTrace records the outcome of one pipeline generation: which
// provider and model ran, how it ended, and what it cost in tokens.
// Indexed by conversation for retrieval alongside chat history.
type GenerationTrace struct {
	ID             uint      `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	ResponseID     string    `gorm:"index" json:"response_id,omitempty"`
	Provider       string    `gorm:"not null" json:"provider"`
	Model          string    `json:"model,omitempty"`
	Status         string    `gorm:"not null" json:"status"` // "success" or "error"
	ErrorMessage   string    `gorm:"type:text" json:"error_message,omitempty"`
	Streamed       bool      `json:"streamed"`
	PromptTokens   int       `json:"prompt_tokens"`
	CachedTokens   int       `json:"cached_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	DurationMS     int64     `json:"duration_ms"`
}

const (
	TraceStatusSuccess = "success"
	TraceStatusError   = "error"
)

// TraceStore persists generation traces.
type TraceStore interface {
	SaveTrace(trace *GenerationTrace) error
	GetTracesByConversation(conversationID string) ([]*GenerationTrace, error)
	DeleteTracesOlderThan(cutoff time.Time) (int64, error)
}

// GORMTraceStore implements TraceStore on any gorm connection, typically the
// one already opened by the message store.
type GORMTraceStore struct {
	db *gorm.DB
}

func NewGORMTraceStore(db *gorm.DB) (*GORMTraceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := db.AutoMigrate(&GenerationTrace{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trace schema: %w", err)
	}
	return &GORMTraceStore{db: db}, nil
}

func (s *GORMTraceStore) SaveTrace(trace *GenerationTrace) error {
	if trace.ConversationID == "" {
		return fmt.Errorf("trace requires a conversation ID")
	}
	return s.db.Create(trace).Error
}

func (s *GORMTraceStore) GetTracesByConversation(conversationID string) ([]*GenerationTrace, error) {
	var traces []*GenerationTrace
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&traces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch traces: %w", err)
	}
	return traces, nil
}

func (s *GORMTraceStore) DeleteTracesOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&GenerationTrace{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete stale traces: %w", res.Error)
	}
	return res.RowsAffected, nil
}
