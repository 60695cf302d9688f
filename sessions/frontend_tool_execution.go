package sessions

import (
	"encoding/json"
	"fmt"
)

// frontendTools maps tool names to the browser action carried in the
// frontend_tool_prompt frame. Calls to these tools never reach the agent's
// executor; they round-trip through the WebSocket instead.
var frontendTools = map[string]string{
	"Browser_Prompt":  "browser_prompt",
	"Browser_Confirm": "browser_confirm",
	"Browser_Alert":   "browser_alert",
}

// ExecuteToolWithContext runs a tool call on behalf of the session. Browser
// tools are forwarded to the connected frontend; everything else goes to the
// agent's executor.
func (as *AgentSession) ExecuteToolWithContext(functionName string, functionCallArgs map[string]interface{}) (string, error) {
	if action, ok := frontendTools[functionName]; ok {
		return as.runFrontendTool(functionName, action, functionCallArgs)
	}
	return as.Agent.ExecuteTool(functionName, functionCallArgs)
}

func (as *AgentSession) runFrontendTool(name, action string, args map[string]interface{}) (string, error) {
	message, err := singleStringArg(name, args)
	if err != nil {
		return "", err
	}

	switch name {
	case "Browser_Prompt", "Browser_Confirm":
		if message == "" {
			message = "Please enter your response:"
		}
		reply, err := as.frontendRoundTrip(name, action, map[string]interface{}{
			"message":       message,
			"default_value": "",
		})
		if err != nil {
			return "", err
		}
		return marshalToolResult(map[string]interface{}{
			"user_response": reply,
			"prompt_shown":  message,
			"success":       true,
		})
	case "Browser_Alert":
		if message == "" {
			message = "Alert from your AI assistant!"
		}
		// An alert collects no input, but we still wait for the frontend
		// ack so the tool call synchronizes with the browser UI.
		ack, err := as.frontendRoundTrip(name, action, map[string]interface{}{
			"message": message,
		})
		if err != nil {
			return "", err
		}
		return marshalToolResult(map[string]interface{}{
			"alert_shown":   true,
			"message_shown": message,
			"ack":           ack,
			"success":       true,
		})
	default:
		return "", fmt.Errorf("unknown frontend tool: %s", name)
	}
}

// frontendRoundTrip pushes a frontend_tool_prompt frame to the browser and
// blocks until the session's ResponseWaiter yields the reply.
func (as *AgentSession) frontendRoundTrip(name, action string, data map[string]interface{}) (string, error) {
	frame := map[string]interface{}{
		"type":   "frontend_tool_prompt",
		"tool":   name,
		"action": action,
		"data":   data,
	}
	if err := as.Writer.WriteResponse(frame); err != nil {
		return "", fmt.Errorf("failed to send %s to frontend: %w", name, err)
	}

	as.Logger.Printf("[%s] Waiting for frontend reply...", name)
	reply, ok := as.ResponseWaiter.WaitForResponse()
	if !ok {
		return "", fmt.Errorf("no frontend reply for %s", name)
	}
	as.Logger.Printf("[%s] Frontend replied: %s", name, reply)
	return reply, nil
}

// singleStringArg unwraps the one string parameter every browser tool takes.
func singleStringArg(name string, args map[string]interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("frontend tool '%s' expects 1 argument", name)
	}
	for _, val := range args {
		s, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("frontend tool '%s' expects string argument", name)
		}
		return s, nil
	}
	return "", fmt.Errorf("frontend tool '%s' expects 1 argument", name)
}

func marshalToolResult(result map[string]interface{}) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(b), nil
}
