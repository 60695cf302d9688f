package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
)

// RunSingleInteraction handles a complete request-response cycle: the user
// turn goes in, tool calls are executed and fed back until the model
// produces a final answer, and that answer comes out.
func (s *HTTPSession) RunSingleInteraction(ctx context.Context, userContent models.Content) (*models.Generate_Response, error) {
	current := userContent
	var finalResponse *models.Generate_Response

	for {
		if err := saveContent(s.Store, s.ConversationID, current); err != nil {
			s.Logger.Printf("Error saving incoming message: %v", err)
		}

		contents, err := loadContents(s.Store, s.ConversationID)
		if err != nil {
			return nil, err
		}

		response, err := s.Agent.Run(ctx, contents)
		if err != nil {
			return nil, fmt.Errorf("agent error: %w", err)
		}

		toolResults, executed, err := s.processResponseParts(response.Parts())
		if err != nil {
			return nil, err
		}

		if !executed {
			finalResponse = response
			break
		}

		current = toolResultsContent(toolResults, s.Logger)
	}

	return finalResponse, nil
}

// RunStreamInteraction handles streaming interactions. Chunks from every
// iteration of the tool loop are forwarded on the returned channel; the
// channel closes once the model finishes a turn without tool calls.
func (s *HTTPSession) RunStreamInteraction(ctx context.Context, userContent models.Content) (<-chan *models.Generate_Response, <-chan error) {
	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		current := userContent

		for {
			if err := saveContent(s.Store, s.ConversationID, current); err != nil {
				s.Logger.Printf("Error saving incoming message: %v", err)
			}

			contents, err := loadContents(s.Store, s.ConversationID)
			if err != nil {
				errChan <- err
				return
			}

			agentRespChan, agentErrChan := s.Agent.Run_Stream(ctx, contents)

			var iterationParts []models.Part
			streamDone := false

			for !streamDone {
				select {
				case response, ok := <-agentRespChan:
					if !ok {
						streamDone = true
						break
					}
					iterationParts = append(iterationParts, response.Parts()...)
					select {
					case respChan <- response:
					case <-ctx.Done():
						errChan <- ctx.Err()
						return
					}

				case err, ok := <-agentErrChan:
					if ok && err != nil {
						errChan <- err
						return
					}
					if !ok {
						agentErrChan = nil
					}
				}
			}

			// An error can be buffered while the response channel closes;
			// don't lose it to select ordering.
			if agentErrChan != nil {
				select {
				case err, ok := <-agentErrChan:
					if ok && err != nil {
						errChan <- err
						return
					}
				default:
				}
			}

			if len(iterationParts) == 0 {
				return
			}

			toolResults, executed, err := s.processResponseParts(iterationParts)
			if err != nil {
				errChan <- err
				return
			}
			if !executed {
				return
			}

			current = toolResultsContent(toolResults, s.Logger)
		}
	}()

	return respChan, errChan
}

// RunSSEInteraction pumps a streaming interaction into an SSE writer,
// stopping when the client disconnects.
func (s *HTTPSession) RunSSEInteraction(ctx context.Context, userContent models.Content, writer SSEWriter) error {
	respChan, errChan := s.RunStreamInteraction(ctx, userContent)

	for {
		select {
		case response, ok := <-respChan:
			if !ok {
				s.Logger.Printf("SSE stream finished.")
				return nil
			}

			jsonData, err := json.Marshal(response)
			if err != nil {
				s.Logger.Printf("Error marshalling response: %v", err)
				continue
			}

			if err := writer.WriteSSE(string(jsonData)); err != nil {
				s.Logger.Printf("Error writing to SSE stream: %v", err)
				return err
			}
			writer.Flush()

		case err, ok := <-errChan:
			if ok && err != nil {
				s.Logger.Printf("SSE stream error: %v", err)
				if writeErr := writer.WriteSSEError(err); writeErr != nil {
					s.Logger.Printf("Error writing SSE error: %v", writeErr)
				}
				writer.Flush()
				return err
			}
			if !ok {
				errChan = nil
			}

		case <-ctx.Done():
			s.Logger.Printf("SSE client disconnected")
			return ctx.Err()
		}
	}
}

// processResponseParts saves the model turn, executes auto-approved tool
// calls and persists their responses.
func (s *HTTPSession) processResponseParts(parts []models.Part) ([]ToolResult, bool, error) {
	if len(parts) == 0 {
		return nil, false, nil
	}

	// Assign IDs to calls the provider left without one, before saving, so
	// the stored row links to the responses.
	for i := range parts {
		if fc := parts[i].FunctionCall; fc != nil && fc.ID == "" {
			fc.ID = fmt.Sprintf("func_%s_%d", fc.Name, i)
		}
	}

	if err := saveContent(s.Store, s.ConversationID, models.Content{Role: "model", Parts: parts}); err != nil {
		return nil, false, fmt.Errorf("failed to save model response: %w", err)
	}

	toolResults := []ToolResult{}
	executedAny := false

	for _, part := range parts {
		fc := part.FunctionCall
		if fc == nil {
			continue
		}

		autoApproved, err := s.Agent.ApproveTool(fc.Name, fc.Args)
		if err != nil {
			s.Logger.Printf("Error checking tool approval for %s: %v", fc.Name, err)
			continue
		}
		if !autoApproved {
			continue
		}

		s.Logger.Printf("Tool %s is auto-approved. Executing...", fc.Name)
		toolResult, err := s.Agent.ExecuteTool(fc.Name, fc.Args)
		if err != nil {
			s.Logger.Printf("Tool execution error for %s: %v", fc.Name, err)
			continue
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

// GetChatHistory retrieves and converts chat history to API response format
func (s *HTTPSession) GetChatHistory() ([]ChatMessageResponse, error) {
	dbHistory, err := s.Store.FetchHistory(s.ConversationID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	apiHistory := make([]ChatMessageResponse, 0, len(dbHistory))
	for i := range dbHistory {
		msg := &dbHistory[i]
		apiMsg := ChatMessageResponse{
			ID:             msg.ID,
			CreatedAt:      msg.CreatedAt,
			UpdatedAt:      msg.UpdatedAt,
			ConversationID: msg.ConversationID,
			Sequence:       msg.Sequence,
			Role:           msg.Role,
			Type:           msg.Type,
			FunctionID:     msg.FunctionID,
		}

		parts, err := msg.Parts()
		if err != nil {
			s.Logger.Printf("Error decoding parts for msg ID %d: %v", msg.ID, err)
		} else if len(parts) > 0 {
			apiMsg.Parts = parts
			if msg.Type == stores.TypeUserMessage || msg.Type == stores.TypeModelMessage {
				for _, p := range parts {
					if p.Text != "" && !p.Thought {
						apiMsg.Text += p.Text
					}
				}
			}
		}

		apiHistory = append(apiHistory, apiMsg)
	}

	return apiHistory, nil
}
