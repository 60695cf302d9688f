package genflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/retry"
)

// Pipeline wraps a Provider with retry, chunk normalization and outcome
// hooks. It is the single entry point callers should generate through.
type Pipeline struct {
	provider Provider
	config   *PipelineConfig
}

func NewPipeline(provider Provider, config *PipelineConfig) *Pipeline {
	if config == nil {
		config = NewPipelineConfig()
	}
	return &Pipeline{provider: provider, config: config}
}

func (p *Pipeline) Provider() Provider { return p.provider }

// Execute runs a non-streaming generation with the configured retry policy.
func (p *Pipeline) Execute(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error) {
	if err := p.validate(request); err != nil {
		p.reportError(ctx, request, err)
		return nil, err
	}

	resp, err := retry.WithBackoff(ctx, func(ctx context.Context) (*models.Generate_Response, error) {
		return p.provider.Generate(ctx, request)
	}, p.config.retryOptions())
	if err != nil {
		p.reportError(ctx, request, err)
		return nil, err
	}

	p.config.Hooks.success(ctx, request, resp)
	return resp, nil
}

// ExecuteStream runs a streaming generation. Retry covers only opening the
// stream: once the first chunk has been delivered, a failure surfaces on the
// error channel instead of restarting the stream. Outward chunks are
// normalized: keep-alive chunks are dropped, and the chunk carrying the
// finish reason is held until the provider's trailing usage (if any) has
// been merged into it, so exactly one terminal chunk is emitted.
func (p *Pipeline) ExecuteStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error) {
	out := make(chan *models.Generate_Response)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		if err := p.validate(request); err != nil {
			p.reportError(ctx, request, err)
			errOut <- err
			return
		}

		handle, err := retry.WithBackoff(ctx, func(ctx context.Context) (*streamHandle, error) {
			return p.openStream(ctx, request)
		}, p.config.retryOptions())
		if err != nil {
			p.reportError(ctx, request, err)
			errOut <- err
			return
		}

		merger := &chunkMerger{}
		accumulated := &models.Generate_Response{}

		emit := func(chunk *models.Generate_Response) bool {
			accumulate(accumulated, chunk)
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				errOut <- ctx.Err()
				return false
			}
		}

		finish := func() {
			if final := merger.flush(); final != nil {
				if !emit(final) {
					return
				}
			}
			p.config.Hooks.streamingSuccess(ctx, request, accumulated)
		}

		if handle.first != nil {
			if fwd := merger.add(handle.first); fwd != nil && !emit(fwd) {
				return
			}
		}
		if handle.done {
			finish()
			return
		}

		for {
			select {
			case chunk, ok := <-handle.resp:
				if !ok {
					// A failure can land in the buffered error channel in
					// the same instant the response side closes.
					if err := drainError(handle.errs); err != nil {
						p.reportError(ctx, request, err)
						errOut <- err
						return
					}
					finish()
					return
				}
				if fwd := merger.add(chunk); fwd != nil && !emit(fwd) {
					return
				}
			case err, ok := <-handle.errs:
				if ok && err != nil {
					p.reportError(ctx, request, err)
					errOut <- err
					return
				}
				if !ok {
					handle.errs = nil
				}
			case <-ctx.Done():
				errOut <- ctx.Err()
				return
			}
		}
	}()

	return out, errOut
}

// CountTokens delegates to the provider.
func (p *Pipeline) CountTokens(ctx context.Context, request *models.Generate_Request) (int, error) {
	return p.provider.CountTokens(ctx, request)
}

func (p *Pipeline) validate(request *models.Generate_Request) error {
	if request == nil || len(request.Contents) == 0 {
		return &BuildError{Provider: p.provider.Name(), Err: fmt.Errorf("request has no contents")}
	}
	return nil
}

// reportError logs the failure with whatever request context exists and
// fires the error hook, unless the caller cancelled.
func (p *Pipeline) reportError(ctx context.Context, request *models.Generate_Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	contents := 0
	if request != nil {
		contents = len(request.Contents)
	}
	log.Printf("Generation error (provider %s, %d contents): %v", p.provider.Name(), contents, err)
	p.config.Hooks.failure(ctx, request, err)
}

// streamHandle carries an opened stream plus the first event that proved it
// open. A stream that ends before producing anything is done immediately.
type streamHandle struct {
	first *models.Generate_Response
	resp  <-chan *models.Generate_Response
	errs  <-chan error
	done  bool
}

// openStream starts the provider stream and waits for its first event. An
// error before the first chunk is returned to the retry loop; anything after
// that is the caller's to observe.
func (p *Pipeline) openStream(ctx context.Context, request *models.Generate_Request) (*streamHandle, error) {
	respChan, errChan := p.provider.GenerateStream(ctx, request)

	select {
	case chunk, ok := <-respChan:
		if !ok {
			if err := drainError(errChan); err != nil {
				return nil, err
			}
			return &streamHandle{done: true}, nil
		}
		return &streamHandle{first: chunk, resp: respChan, errs: errChan}, nil
	case err, ok := <-errChan:
		if ok && err != nil {
			return nil, err
		}
		// Error channel closed with nothing on it: drain the response side.
		return &streamHandle{resp: respChan, errs: nil}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainError does a non-blocking read of a possibly-nil error channel.
func drainError(errs <-chan error) error {
	if errs == nil {
		return nil
	}
	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
	default:
	}
	return nil
}

// chunkMerger normalizes the outward chunk sequence. Keep-alive chunks are
// dropped. The chunk carrying a finish reason is held back; trailing usage
// metadata is folded into it and the merged terminal chunk is released at
// stream end.
type chunkMerger struct {
	pending *models.Generate_Response
}

// add returns the chunk to forward now, or nil.
func (m *chunkMerger) add(chunk *models.Generate_Response) *models.Generate_Response {
	if chunk == nil || chunk.Empty() {
		return nil
	}

	if m.pending != nil {
		mergeInto(m.pending, chunk)
		return nil
	}

	if chunk.FinishReason() != "" {
		m.pending = chunk
		return nil
	}
	return chunk
}

// flush releases the held terminal chunk, if any.
func (m *chunkMerger) flush() *models.Generate_Response {
	final := m.pending
	m.pending = nil
	return final
}

// mergeInto folds a trailing chunk into the held terminal chunk: usage
// replaces missing usage, parts append to the first candidate, and a finish
// reason fills in only if the terminal chunk lacked one.
func mergeInto(pending, chunk *models.Generate_Response) {
	if chunk.UsageMetadata != nil {
		pending.UsageMetadata = chunk.UsageMetadata
	}
	if parts := chunk.Parts(); len(parts) > 0 && len(pending.Candidates) > 0 {
		pending.Candidates[0].Content.Parts = append(pending.Candidates[0].Content.Parts, parts...)
	}
	if pending.FinishReason() == "" && chunk.FinishReason() != "" && len(pending.Candidates) > 0 {
		pending.Candidates[0].FinishReason = chunk.FinishReason()
	}
}

// accumulate folds a forwarded chunk into the running response handed to the
// streaming success hook.
func accumulate(acc, chunk *models.Generate_Response) {
	if chunk.ResponseID != "" {
		acc.ResponseID = chunk.ResponseID
	}
	if chunk.Model != "" {
		acc.Model = chunk.Model
	}
	if chunk.UsageMetadata != nil {
		acc.UsageMetadata = chunk.UsageMetadata
	}
	if len(acc.Candidates) == 0 {
		acc.Candidates = []models.Candidate{{Content: models.Content{Role: "model"}}}
	}
	acc.Candidates[0].Content.Parts = append(acc.Candidates[0].Content.Parts, chunk.Parts()...)
	if fr := chunk.FinishReason(); fr != "" {
		acc.Candidates[0].FinishReason = fr
	}
}
