package genflow

import (
	"context"
	"log"
	"time"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/stores"
)

// TraceRecorder persists generation outcomes as stores.GenerationTrace rows.
// Attach its Hooks to a PipelineConfig to get per-generation telemetry.
type TraceRecorder struct {
	Store    stores.TraceStore
	Provider string
}

func NewTraceRecorder(store stores.TraceStore, provider string) *TraceRecorder {
	return &TraceRecorder{Store: store, Provider: provider}
}

// Hooks returns pipeline hooks recording against one conversation. Duration
// is measured from when the hooks are created, so build them right before
// executing.
func (r *TraceRecorder) Hooks(conversationID string) Hooks {
	start := time.Now()
	return Hooks{
		OnSuccess: func(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
			r.record(conversationID, resp, nil, false, start)
		},
		OnStreamingSuccess: func(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
			r.record(conversationID, resp, nil, true, start)
		},
		OnError: func(ctx context.Context, req *models.Generate_Request, err error) {
			r.record(conversationID, nil, err, false, start)
		},
	}
}

func (r *TraceRecorder) record(conversationID string, resp *models.Generate_Response, genErr error, streamed bool, start time.Time) {
	trace := &stores.GenerationTrace{
		ConversationID: conversationID,
		Provider:       r.Provider,
		Status:         stores.TraceStatusSuccess,
		Streamed:       streamed,
		DurationMS:     time.Since(start).Milliseconds(),
	}
	if genErr != nil {
		trace.Status = stores.TraceStatusError
		trace.ErrorMessage = genErr.Error()
	}
	if resp != nil {
		trace.ResponseID = resp.ResponseID
		trace.Model = resp.Model
		if u := resp.UsageMetadata; u != nil {
			trace.PromptTokens = u.PromptTokenCount
			trace.CachedTokens = u.CachedContentTokenCount
			trace.OutputTokens = u.CandidatesTokenCount
			trace.TotalTokens = u.TotalTokenCount
		}
	}
	if err := r.Store.SaveTrace(trace); err != nil {
		log.Printf("Warning: failed to save generation trace: %v", err)
	}
}
