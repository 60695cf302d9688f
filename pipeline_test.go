package genflow

import (
	"context"
	"testing"
	"time"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts responses for pipeline tests. Each call to
// GenerateStream consumes the next script; Generate consumes the next
// result.
type fakeProvider struct {
	generateResults []fakeResult
	streamScripts   []streamScript
	generateCalls   int
	streamCalls     int
}

type fakeResult struct {
	resp *models.Generate_Response
	err  error
}

type streamScript struct {
	openErr error
	chunks  []*models.Generate_Response
	err     error // delivered after chunks
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error) {
	res := f.generateResults[f.generateCalls]
	f.generateCalls++
	return res.resp, res.err
}

func (f *fakeProvider) GenerateStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error) {
	script := f.streamScripts[f.streamCalls]
	f.streamCalls++

	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)
	go func() {
		defer close(respChan)
		defer close(errChan)
		if script.openErr != nil {
			errChan <- script.openErr
			return
		}
		for _, chunk := range script.chunks {
			select {
			case respChan <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if script.err != nil {
			errChan <- script.err
		}
	}()
	return respChan, errChan
}

func (f *fakeProvider) CountTokens(ctx context.Context, request *models.Generate_Request) (int, error) {
	return models.EstimateTokens(request.TextForCounting()), nil
}

func textChunk(text string) *models.Generate_Response {
	return &models.Generate_Response{
		Candidates: []models.Candidate{{
			Content: models.Content{Role: "model", Parts: []models.Part{models.TextPart(text)}},
		}},
	}
}

func finishChunk(reason models.FinishReason) *models.Generate_Response {
	return &models.Generate_Response{
		Candidates: []models.Candidate{{
			Content:      models.Content{Role: "model"},
			FinishReason: reason,
		}},
	}
}

func usageChunk(prompt, output int) *models.Generate_Response {
	return &models.Generate_Response{
		UsageMetadata: &models.UsageMetadata{
			PromptTokenCount:     prompt,
			CandidatesTokenCount: output,
			TotalTokenCount:      prompt + output,
		},
	}
}

func fastConfig() *PipelineConfig {
	return NewPipelineConfig().WithBackoff(time.Millisecond, 5*time.Millisecond)
}

func userRequest() *models.Generate_Request {
	return &models.Generate_Request{Contents: []models.Content{models.UserContent("hi")}}
}

func collect(t *testing.T, respChan <-chan *models.Generate_Response, errChan <-chan error) ([]*models.Generate_Response, error) {
	t.Helper()
	var chunks []*models.Generate_Response
	for chunk := range respChan {
		chunks = append(chunks, chunk)
	}
	return chunks, <-errChan
}

func TestExecuteSuccess(t *testing.T) {
	provider := &fakeProvider{generateResults: []fakeResult{
		{resp: textChunk("hello")},
	}}
	p := NewPipeline(provider, fastConfig())

	resp, err := p.Execute(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text())
	assert.Equal(t, 1, provider.generateCalls)
}

func TestExecuteRetriesTransientError(t *testing.T) {
	provider := &fakeProvider{generateResults: []fakeResult{
		{err: &retry.HTTPError{Status: 503, Body: "unavailable"}},
		{resp: textChunk("recovered")},
	}}
	p := NewPipeline(provider, fastConfig())

	resp, err := p.Execute(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())
	assert.Equal(t, 2, provider.generateCalls)
}

func TestExecuteDoesNotRetryClientError(t *testing.T) {
	provider := &fakeProvider{generateResults: []fakeResult{
		{err: &retry.HTTPError{Status: 400, Body: "bad request"}},
	}}
	p := NewPipeline(provider, fastConfig())

	_, err := p.Execute(context.Background(), userRequest())
	require.Error(t, err)
	assert.Equal(t, 1, provider.generateCalls)
}

func TestExecuteEmptyRequestIsBuildError(t *testing.T) {
	provider := &fakeProvider{}
	p := NewPipeline(provider, fastConfig())

	_, err := p.Execute(context.Background(), &models.Generate_Request{})
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, 0, provider.generateCalls)
}

func TestExecuteStreamMergesFinishAndUsage(t *testing.T) {
	provider := &fakeProvider{streamScripts: []streamScript{{
		chunks: []*models.Generate_Response{
			textChunk("hi"),
			finishChunk(models.FinishReasonStop),
			usageChunk(10, 2),
		},
	}}}
	p := NewPipeline(provider, fastConfig())

	rc, ec := p.ExecuteStream(context.Background(), userRequest())
	chunks, err := collect(t, rc, ec)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "finish and usage must merge into one terminal chunk")
	assert.Equal(t, "hi", chunks[0].Text())

	final := chunks[1]
	assert.Equal(t, models.FinishReasonStop, final.FinishReason())
	require.NotNil(t, final.UsageMetadata)
	assert.Equal(t, 12, final.UsageMetadata.TotalTokenCount)
}

func TestExecuteStreamDropsKeepAliveChunks(t *testing.T) {
	provider := &fakeProvider{streamScripts: []streamScript{{
		chunks: []*models.Generate_Response{
			textChunk("a"),
			{}, // keep-alive
			{Candidates: []models.Candidate{{Content: models.Content{Role: "model"}}}},
			finishChunk(models.FinishReasonStop),
		},
	}}}
	p := NewPipeline(provider, fastConfig())

	rc, ec := p.ExecuteStream(context.Background(), userRequest())
	chunks, err := collect(t, rc, ec)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestExecuteStreamRetriesOpenFailure(t *testing.T) {
	provider := &fakeProvider{streamScripts: []streamScript{
		{openErr: &retry.HTTPError{Status: 429, Body: "slow down"}},
		{chunks: []*models.Generate_Response{
			textChunk("ok"),
			finishChunk(models.FinishReasonStop),
		}},
	}}
	p := NewPipeline(provider, fastConfig())

	rc, ec := p.ExecuteStream(context.Background(), userRequest())
	chunks, err := collect(t, rc, ec)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.streamCalls)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ok", chunks[0].Text())
}

func TestExecuteStreamMidStreamErrorNotRetried(t *testing.T) {
	provider := &fakeProvider{streamScripts: []streamScript{{
		chunks: []*models.Generate_Response{textChunk("partial")},
		err:    &retry.HTTPError{Status: 503, Body: "died mid-stream"},
	}}}
	p := NewPipeline(provider, fastConfig())

	rc, ec := p.ExecuteStream(context.Background(), userRequest())
	chunks, err := collect(t, rc, ec)
	require.Error(t, err)
	assert.Equal(t, 1, provider.streamCalls, "errors after the first chunk must not restart the stream")
	require.Len(t, chunks, 1)
	assert.Equal(t, "partial", chunks[0].Text())
}

func TestExecuteStreamCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &fakeProvider{streamScripts: []streamScript{{
		chunks: []*models.Generate_Response{textChunk("first"), textChunk("second")},
	}}}
	p := NewPipeline(provider, fastConfig())

	respChan, errChan := p.ExecuteStream(ctx, userRequest())
	<-respChan
	cancel()
	// Give the pipeline a moment to observe the cancellation while nothing
	// is reading, so the blocked send cannot win the race.
	time.Sleep(20 * time.Millisecond)

	for range respChan {
	}
	// The error channel is buffered, so the cancellation error survives the
	// channel close.
	assert.ErrorIs(t, <-errChan, context.Canceled)
}

func TestHooksFireOnOutcomes(t *testing.T) {
	var successes, failures int
	hooks := Hooks{
		OnSuccess: func(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
			successes++
		},
		OnError: func(ctx context.Context, req *models.Generate_Request, err error) {
			failures++
		},
	}
	provider := &fakeProvider{generateResults: []fakeResult{
		{resp: textChunk("ok")},
		{err: &retry.HTTPError{Status: 400, Body: "nope"}},
	}}
	p := NewPipeline(provider, fastConfig().WithHooks(hooks))

	_, err := p.Execute(context.Background(), userRequest())
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), userRequest())
	require.Error(t, err)

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
}

func TestStreamingSuccessHookGetsAccumulatedResponse(t *testing.T) {
	var accumulated *models.Generate_Response
	hooks := Hooks{
		OnStreamingSuccess: func(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
			accumulated = resp
		},
	}
	provider := &fakeProvider{streamScripts: []streamScript{{
		chunks: []*models.Generate_Response{
			textChunk("hel"),
			textChunk("lo"),
			finishChunk(models.FinishReasonStop),
			usageChunk(4, 2),
		},
	}}}
	p := NewPipeline(provider, fastConfig().WithHooks(hooks))

	rc, ec := p.ExecuteStream(context.Background(), userRequest())
	_, err := collect(t, rc, ec)
	require.NoError(t, err)
	require.NotNil(t, accumulated)
	assert.Equal(t, "hello", accumulated.Text())
	assert.Equal(t, models.FinishReasonStop, accumulated.FinishReason())
	require.NotNil(t, accumulated.UsageMetadata)
	assert.Equal(t, 6, accumulated.UsageMetadata.TotalTokenCount)
}

func TestPanickingHookDoesNotKillGeneration(t *testing.T) {
	hooks := Hooks{
		OnSuccess: func(ctx context.Context, req *models.Generate_Request, resp *models.Generate_Response) {
			panic("hook bug")
		},
	}
	provider := &fakeProvider{generateResults: []fakeResult{{resp: textChunk("ok")}}}
	p := NewPipeline(provider, fastConfig().WithHooks(hooks))

	resp, err := p.Execute(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
}

func TestErrorHookSkippedOnCancellation(t *testing.T) {
	var failures int
	hooks := Hooks{
		OnError: func(ctx context.Context, req *models.Generate_Request, err error) { failures++ },
	}
	provider := &fakeProvider{generateResults: []fakeResult{{err: context.Canceled}}}
	p := NewPipeline(provider, fastConfig().WithHooks(hooks))

	_, err := p.Execute(context.Background(), userRequest())
	require.Error(t, err)
	assert.Equal(t, 0, failures, "cancellation is the caller's doing, not an error outcome")
}
