package stores

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// gormStore implements the MessageStore operations shared by every SQL
// backend. Dialect-specific stores embed it and supply the open function.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) setDB(db *gorm.DB) error {
	s.db = db
	if err := s.db.AutoMigrate(&Conversation{}, &Message{}, &GenerationTrace{}); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for trace stores and pruners that
// share the same database.
func (s *gormStore) DB() *gorm.DB { return s.db }

func (s *gormStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) Ping() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// SaveMessage saves a message without user association.
func (s *gormStore) SaveMessage(sessionID, role, messageType string, parts interface{}, functionID string) error {
	return s.SaveMessageWithUser(sessionID, "", role, messageType, parts, functionID)
}

// SaveMessageWithUser saves a message, creating the conversation row on
// first write.
func (s *gormStore) SaveMessageWithUser(sessionID, userID, role, messageType string, parts interface{}, functionID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var count int64
	if err := s.db.Model(&Conversation{}).Where("conversation_id = ?", sessionID).Count(&count).Error; err != nil {
		log.Printf("Warning: Error checking for conversation %s: %v", sessionID, err)
	} else if count == 0 {
		if err := s.CreateConversation(sessionID, userID); err != nil {
			log.Printf("Warning: Failed to create conversation record for %s: %v", sessionID, err)
		}
	}

	if err := s.db.Model(&Message{}).Where("conversation_id = ?", sessionID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count existing messages: %w", err)
	}
	seq := int(count) + 1

	partsJSONBytes, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("failed to marshal parts for database: %w", err)
	}
	partsJSONStr := string(partsJSONBytes)
	if parts == nil || partsJSONStr == "null" || partsJSONStr == "[]" {
		log.Printf("Warning: Saving message with empty parts for ConvID: %s, Role: %s, Type: %s", sessionID, role, messageType)
		partsJSONStr = "{}"
	}

	msg := Message{
		ConversationID: sessionID,
		Sequence:       seq,
		Role:           role,
		Type:           messageType,
		PartsJSON:      partsJSONStr,
		FunctionID:     functionID,
	}

	tx := s.db.Begin()
	if err := tx.Create(&msg).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create message record: %w", err)
	}
	if err := tx.Model(&Conversation{}).Where("conversation_id = ?", sessionID).Update("message_count", seq).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update conversation message count: %w", err)
	}
	return tx.Commit().Error
}

// FetchHistory retrieves messages in sequence order. With a positive limit
// only the most recent messages are returned, still oldest-first.
func (s *gormStore) FetchHistory(sessionID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	query := s.db.Where("conversation_id = ?", sessionID).Order("sequence ASC")
	if limit > 0 {
		var count int64
		if err := s.db.Model(&Message{}).Where("conversation_id = ?", sessionID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		if count > int64(limit) {
			query = query.Offset(int(count) - limit)
		}
	}

	var msgs []Message
	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}

func (s *gormStore) CreateConversation(convoID, userID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	conv := Conversation{
		ConversationID: convoID,
		UserID:         userID,
		MessageCount:   0,
	}
	return s.db.Create(&conv).Error
}

func (s *gormStore) ListConversations() ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	var convs []Conversation
	if err := s.db.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ConversationID
	}
	return ids, nil
}

func (s *gormStore) ListConversationsForUser(userID string) ([]ConversationInfo, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	var convs []Conversation
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	result := make([]ConversationInfo, len(convs))
	for i, c := range convs {
		result[i] = ConversationInfo{
			ConversationID: c.ConversationID,
			UserID:         c.UserID,
			Title:          c.Title,
			MessageCount:   c.MessageCount,
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
		}
	}
	return result, nil
}

// PruneOlderThan deletes conversations last updated before the cutoff,
// together with their messages and traces. Returns the number of
// conversations removed.
func (s *gormStore) PruneOlderThan(cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}

	var stale []Conversation
	if err := s.db.Where("updated_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ConversationID
	}

	tx := s.db.Begin()
	if err := tx.Where("conversation_id IN ?", ids).Delete(&Message{}).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to delete stale messages: %w", err)
	}
	if err := tx.Where("conversation_id IN ?", ids).Delete(&GenerationTrace{}).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to delete stale traces: %w", err)
	}
	if err := tx.Where("conversation_id IN ?", ids).Delete(&Conversation{}).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to delete stale conversations: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
