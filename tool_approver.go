package genflow

import "log"

// Tools that never require explicit user approval.
var autoApprovedTools = map[string]bool{}

// Tool_Approver checks if a tool requires user approval.
// Returns true if the tool is auto-approved or if approval is granted.
func Tool_Approver(toolName string, toolArgs map[string]interface{}) (bool, error) {
	if autoApprovedTools[toolName] {
		return true, nil
	}

	// TODO: route approval requests through the WebSocket session instead
	// of auto-approving everything.
	log.Printf("Auto-approving tool: %s", toolName)
	return true, nil
}
