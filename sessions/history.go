package sessions

import (
	"encoding/json"
	"fmt"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
)

// messageTypeOf classifies a turn by its parts. A turn mixing text with
// function calls is stored as a function_call row; the text rides along in
// the same parts payload.
func messageTypeOf(content models.Content) (msgType, functionID string) {
	msgType = stores.TypeUserMessage
	if content.Role == "model" {
		msgType = stores.TypeModelMessage
	}
	for _, part := range content.Parts {
		if part.FunctionCall != nil {
			msgType = stores.TypeFunctionCall
			if functionID == "" {
				functionID = part.FunctionCall.ID
			}
		}
		if part.FunctionResponse != nil {
			msgType = stores.TypeFunctionResponse
			if functionID == "" {
				functionID = part.FunctionResponse.ID
			}
		}
	}
	return msgType, functionID
}

// saveContent persists one canonical turn as a single message row.
func saveContent(store stores.MessageStore, conversationID string, content models.Content) error {
	if len(content.Parts) == 0 {
		return nil
	}
	msgType, functionID := messageTypeOf(content)
	return store.SaveMessage(conversationID, content.Role, msgType, content.Parts, functionID)
}

// loadContents fetches the stored history, repairs broken tool cycles and
// replays the result into canonical contents.
func loadContents(store stores.MessageStore, conversationID string) ([]models.Content, error) {
	history, err := store.FetchHistory(conversationID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return stores.HistoryToContents(stores.SanitizeHistory(history)), nil
}

// toolResultsContent folds executed tool outputs into a single user turn of
// function responses, ready to be fed back to the model.
func toolResultsContent(results []ToolResult, logger interface{ Printf(string, ...interface{}) }) models.Content {
	parts := make([]models.Part, 0, len(results))
	for _, result := range results {
		var resultMap map[string]interface{}
		if err := json.Unmarshal([]byte(result.Output), &resultMap); err != nil {
			logger.Printf("Tool output for %s is not JSON, storing raw: %v", result.Name, err)
			resultMap = map[string]interface{}{"raw_output": result.Output}
		}
		parts = append(parts, models.Part{
			FunctionResponse: &models.FunctionResponse{
				ID:       result.ID,
				Name:     result.Name,
				Response: resultMap,
			},
		})
	}
	return models.Content{Role: "user", Parts: parts}
}
