package genflow

import (
	"context"
	"log"

	"github.com/Desarso/genflow/models"
)

// Hooks receive pipeline outcomes for logging, persistence or metrics. All
// fields are optional; a panicking hook is recovered and logged so it can
// never take down a generation.
type Hooks struct {
	// OnSuccess fires after a completed non-streaming generation.
	OnSuccess func(ctx context.Context, request *models.Generate_Request, response *models.Generate_Response)
	// OnStreamingSuccess fires once after a stream finishes cleanly, with
	// the accumulated response.
	OnStreamingSuccess func(ctx context.Context, request *models.Generate_Request, response *models.Generate_Response)
	// OnError fires when a generation fails for any reason other than
	// caller cancellation.
	OnError func(ctx context.Context, request *models.Generate_Request, err error)
}

func (h Hooks) success(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
	if h.OnSuccess == nil {
		return
	}
	defer recoverHook("OnSuccess")
	h.OnSuccess(ctx, req, resp)
}

func (h Hooks) streamingSuccess(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
	if h.OnStreamingSuccess == nil {
		return
	}
	defer recoverHook("OnStreamingSuccess")
	h.OnStreamingSuccess(ctx, req, resp)
}

func (h Hooks) failure(ctx context.Context, req *models.Generate_Request, err error) {
	if h.OnError == nil {
		return
	}
	defer recoverHook("OnError")
	h.OnError(ctx, req, err)
}

func recoverHook(name string) {
	if r := recover(); r != nil {
		log.Printf("Warning: %s hook panicked: %v", name, r)
	}
}
