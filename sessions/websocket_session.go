package sessions

import (
	"context"
	"encoding/json"

	"github.com/Desarso/genflow/models"
	"github.com/google/uuid"
)

// functionCallInfo holds information about a function call
type functionCallInfo struct {
	Name     string
	Args     map[string]interface{}
	ID       string
	ArgsJSON string
}

// RunInteraction handles the complete agent interaction loop: stream the
// model's turn to the client, execute any auto-approved tool calls, feed the
// results back and repeat until the model answers with no tool calls.
func (as *AgentSession) RunInteraction(ctx context.Context, userContent models.Content) error {
	current := userContent

	for {
		// Persist the incoming turn (user message or tool results) so the
		// next history fetch includes it.
		if err := saveContent(as.Store, as.SessionID, current); err != nil {
			as.Logger.Printf("Error saving incoming message: %v", err)
		}

		contents, err := loadContents(as.Store, as.SessionID)
		if err != nil {
			as.Logger.Printf("Error fetching history: %v", err)
			return as.sendError("Failed to fetch history", false)
		}

		resChan, errChan := as.Agent.Run_Stream(ctx, contents)

		accumulatedParts, err := as.processStream(resChan, errChan)
		if err != nil {
			return err
		}

		toolResults, executed, err := as.processAccumulatedParts(accumulatedParts)
		if err != nil {
			return err
		}

		if !executed {
			// No tools executed, interaction complete
			break
		}

		current = toolResultsContent(toolResults, as.Logger)
	}

	return as.Writer.WriteDone()
}

// processStream forwards stream chunks to the client and accumulates parts
func (as *AgentSession) processStream(resChan <-chan *models.Generate_Response, errChan <-chan error) ([]models.Part, error) {
	var accumulated []models.Part

	for {
		select {
		case chunk, ok := <-resChan:
			if !ok {
				// An error can be buffered while the response channel
				// closes; don't lose it to select ordering.
				if errChan != nil {
					select {
					case streamErr, ok := <-errChan:
						if ok && streamErr != nil {
							as.Logger.Printf("Stream error: %v", streamErr)
							as.Writer.WriteError("Agent stream error: " + streamErr.Error())
							return nil, &AgentError{Message: "Agent stream error", Fatal: false}
						}
					default:
					}
				}
				as.Logger.Printf("Stream finished normally")
				return accumulated, nil
			}
			accumulated = append(accumulated, chunk.Parts()...)
			if err := as.Writer.WriteResponse(chunk); err != nil {
				as.Logger.Printf("Error writing stream chunk: %v", err)
				return nil, &AgentError{Message: "Error writing stream chunk", Fatal: true}
			}

		case streamErr, ok := <-errChan:
			if ok && streamErr != nil {
				as.Logger.Printf("Stream error: %v", streamErr)
				as.Writer.WriteError("Agent stream error: " + streamErr.Error())
				return nil, &AgentError{Message: "Agent stream error", Fatal: false}
			}
			if !ok {
				errChan = nil
			}
		}
	}
}

// processAccumulatedParts saves the model turn and executes its tool calls
func (as *AgentSession) processAccumulatedParts(parts []models.Part) ([]ToolResult, bool, error) {
	if len(parts) == 0 {
		return nil, false, nil
	}

	functionCalls := as.extractFunctionCalls(parts)

	// Save the full model turn in one row; messageTypeOf picks
	// function_call when the parts carry calls.
	if err := saveContent(as.Store, as.SessionID, models.Content{Role: "model", Parts: parts}); err != nil {
		as.Logger.Printf("Error saving model message: %v", err)
	}

	toolResults := []ToolResult{}
	executedAny := false

	for _, fc := range functionCalls {
		approved, err := as.Agent.ApproveTool(fc.Name, fc.Args)
		if err != nil {
			as.Logger.Printf("Error checking tool approval for %s (ID: %s): %v", fc.Name, fc.ID, err)
			continue
		}
		if !approved {
			continue
		}

		toolResult, err := as.executeTool(fc)
		if err != nil {
			as.Logger.Printf("Error executing tool %s (ID: %s): %v", fc.Name, fc.ID, err)
		}

		if err := as.sendToolResult(fc, toolResult); err != nil {
			as.Logger.Printf("Error sending tool result: %v", err)
		}

		toolResults = append(toolResults, ToolResult{
			ID:     fc.ID,
			Name:   fc.Name,
			Output: toolResult,
		})
		executedAny = true
	}

	return toolResults, executedAny, nil
}

// extractFunctionCalls extracts unique function calls from parts. Calls the
// provider left without an ID get one here so responses can link back. The
// assigned ID is written into the part so the saved row carries it too.
func (as *AgentSession) extractFunctionCalls(parts []models.Part) []functionCallInfo {
	seenFC := make(map[string]bool)
	functionCalls := []functionCallInfo{}

	for i := range parts {
		fc := parts[i].FunctionCall
		if fc == nil {
			continue
		}

		argsBytes, _ := json.Marshal(fc.Args)
		argsJSON := string(argsBytes)
		key := fc.Name + "|" + argsJSON
		if seenFC[key] {
			continue
		}
		seenFC[key] = true

		if fc.ID == "" {
			fc.ID = uuid.New().String()
		}

		functionCalls = append(functionCalls, functionCallInfo{
			Name:     fc.Name,
			Args:     fc.Args,
			ID:       fc.ID,
			ArgsJSON: argsJSON,
		})
	}

	return functionCalls
}

// executeTool executes a tool through the custom executor when one is set
func (as *AgentSession) executeTool(fc functionCallInfo) (string, error) {
	if as.ToolExecutor != nil {
		return as.ToolExecutor(fc.Name, fc.Args, as.Agent, as.SessionID, as.Writer, as.ResponseWaiter, as.Logger)
	}
	return as.ExecuteToolWithContext(fc.Name, fc.Args)
}

// sendToolResult sends a tool result to the WebSocket client
func (as *AgentSession) sendToolResult(fc functionCallInfo, toolResultJSON string) error {
	var resultData map[string]interface{}
	if err := json.Unmarshal([]byte(toolResultJSON), &resultData); err != nil {
		as.Logger.Printf("Failed to unmarshal tool result JSON for structured sending (tool: %s, ID: %s): %v. Sending raw JSON string.", fc.Name, fc.ID, err)
		resultData = nil
	}

	toolMsg := WebSocketToolResultMessage{
		Type:         "tool_result",
		FunctionName: fc.Name,
		FunctionID:   fc.ID,
		Result:       resultData,
		ResultJSON:   toolResultJSON,
	}

	return as.Writer.WriteResponse(toolMsg)
}

// sendError sends an error message and returns an AgentError
func (as *AgentSession) sendError(message string, fatal bool) error {
	as.Logger.Printf("Error: %s (fatal: %v)", message, fatal)
	as.Writer.WriteError(message)
	return &AgentError{Message: message, Fatal: fatal}
}
