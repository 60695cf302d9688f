package common_tools

import (
	"encoding/json"
	"fmt"
)

// Browser_Alert triggers an alert in the user's browser with the specified message
func Browser_Alert(message string) (string, error) {
	if message == "" {
		message = "Alert from your AI assistant!"
	}

	// Return a special JSON format that the frontend will recognize
	result := map[string]interface{}{
		"action":  "browser_alert",
		"message": message,
		"success": true,
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert result: %w", err)
	}
	return string(resultJSON), nil
}

// Browser_Prompt triggers a prompt dialog in the user's browser that asks for input.
//
// NOTE: This is a frontend tool that is handled specially by the WebSocket session.
// This function itself is never actually called - the session intercepts calls to
// Browser_Prompt and handles them directly with WebSocket communication.
// This declaration exists only for tool registration.
func Browser_Prompt(message string) (string, error) {
	return `{"error": "Browser_Prompt should be handled by session, not called directly"}`, nil
}
