package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/Desarso/genflow/models"
	"github.com/Desarso/genflow/retry"
	"github.com/joho/godotenv"
	"google.golang.org/genai"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.0-flash"

	// Files above this size should go through the Files API instead of
	// being inlined into the request.
	maxInlineBytes = 2 * 1024 * 1024
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Gemini_Model implements the genflow Provider interface for the Gemini API.
// The wire format is the canonical representation, so conversion is mostly a
// straight embed; finish reasons and usage pass through untranslated.
type Gemini_Model struct {
	Model       string
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
	BaseURL     string // Optional: custom API endpoint
	APIKeyEnv   string // Optional: env var name for API key (defaults to GEMINI_API_KEY)
}

func (g *Gemini_Model) Name() string { return "gemini" }

func (g *Gemini_Model) modelName(request *models.Generate_Request) string {
	if request != nil && request.Model != "" {
		return request.Model
	}
	if g.Model != "" {
		return g.Model
	}
	return DefaultModel
}

// Generate implements the Provider interface for non-streaming requests.
func (g *Gemini_Model) Generate(ctx context.Context, request *models.Generate_Request) (*models.Generate_Response, error) {
	geminiReq, err := g.BuildRequest(request)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL(), g.modelName(request), g.apiKey())
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{Status: resp.StatusCode, Body: errorBody(body)}
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return ConvertResponse(&geminiResp), nil
}

// GenerateStream implements the Provider interface for streaming requests.
// streamGenerateContent returns a JSON array of response objects; each
// element is decoded and forwarded as it arrives.
func (g *Gemini_Model) GenerateStream(ctx context.Context, request *models.Generate_Request) (<-chan *models.Generate_Response, <-chan error) {
	respChan := make(chan *models.Generate_Response)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		defer close(errChan)

		geminiReq, err := g.BuildRequest(request)
		if err != nil {
			errChan <- err
			return
		}

		jsonBytes, err := json.Marshal(geminiReq)
		if err != nil {
			errChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s", g.baseURL(), g.modelName(request), g.apiKey())
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBytes))
		if err != nil {
			errChan <- fmt.Errorf("failed to create HTTP request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			errChan <- fmt.Errorf("HTTP request failed: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errChan <- &retry.HTTPError{Status: resp.StatusCode, Body: errorBody(body)}
			return
		}

		g.parseArrayStream(ctx, resp.Body, respChan, errChan)
	}()

	return respChan, errChan
}

// parseArrayStream decodes the streamed JSON array element by element.
func (g *Gemini_Model) parseArrayStream(ctx context.Context, r io.Reader, respChan chan<- *models.Generate_Response, errChan chan<- error) {
	decoder := json.NewDecoder(r)

	t, err := decoder.Token()
	if err != nil {
		errChan <- fmt.Errorf("error reading stream start: %w", err)
		return
	}
	if delim, ok := t.(json.Delim); !ok || delim != '[' {
		errChan <- fmt.Errorf("expected '[' at start of stream, got %v", t)
		return
	}

	for decoder.More() {
		var chunk GeminiResponse
		if err := decoder.Decode(&chunk); err != nil {
			if ctx.Err() != nil {
				errChan <- ctx.Err()
				return
			}
			errChan <- fmt.Errorf("error decoding stream chunk: %w", err)
			return
		}
		select {
		case respChan <- ConvertResponse(&chunk):
		case <-ctx.Done():
			errChan <- ctx.Err()
			return
		}
	}
}

// BuildRequest constructs the wire request. Contents are already in the wire
// shape; only tools and sampling need assembly.
func (g *Gemini_Model) BuildRequest(request *models.Generate_Request) (*GeminiRequest, error) {
	if len(request.Contents) == 0 {
		return nil, fmt.Errorf("cannot create Gemini request with no content")
	}

	req := &GeminiRequest{Contents: request.Contents}

	if request.SystemInstruction != "" {
		req.SystemInstruction = &SystemInstruction{
			Parts: []models.Part{models.TextPart(request.SystemInstruction)},
		}
	}

	if len(request.Tools) > 0 {
		req.Tools = ConvertToGeminiTools(request.Tools)
	}

	cfg := &GenerationConfig{}
	if request.Config != nil {
		cfg.Temperature = request.Config.Temperature
		cfg.TopP = request.Config.TopP
		cfg.TopK = request.Config.TopK
		cfg.MaxOutputTokens = request.Config.MaxOutputTokens
	}
	if g.Temperature != nil {
		cfg.Temperature = g.Temperature
	}
	if g.TopP != nil {
		cfg.TopP = g.TopP
	}
	if g.TopK != nil {
		cfg.TopK = g.TopK
	}
	if g.MaxTokens != nil {
		cfg.MaxOutputTokens = g.MaxTokens
	}
	if *cfg != (GenerationConfig{}) {
		req.GenerationConfig = cfg
	}

	return req, nil
}

// ConvertResponse maps the wire response to the canonical shape. Finish
// reasons already use the canonical vocabulary and pass through as-is.
func ConvertResponse(resp *GeminiResponse) *models.Generate_Response {
	out := &models.Generate_Response{
		ResponseID:    resp.ResponseID,
		Model:         resp.ModelVersion,
		UsageMetadata: mapWireUsage(resp.UsageMetadata),
	}
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, models.Candidate{
			Content:      c.Content,
			FinishReason: models.FinishReason(c.FinishReason),
		})
	}
	return out
}

// CountTokens asks the Gemini API for an exact count via the official SDK,
// falling back to the character heuristic when no key is configured or the
// call fails. It never returns an error.
func (g *Gemini_Model) CountTokens(ctx context.Context, request *models.Generate_Request) (int, error) {
	text := request.TextForCounting()

	apiKey := g.apiKey()
	if apiKey == "" {
		return models.EstimateTokens(text), nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Printf("Warning: genai client unavailable, using token estimate: %v", err)
		return models.EstimateTokens(text), nil
	}

	resp, err := client.Models.CountTokens(ctx, g.modelName(request), genai.Text(text), nil)
	if err != nil {
		log.Printf("Warning: CountTokens call failed, using token estimate: %v", err)
		return models.EstimateTokens(text), nil
	}
	return int(resp.TotalTokens), nil
}

// InlineDataFromURL downloads a small file and wraps it as an inline data
// part. Files over the inline limit are rejected; callers should host large
// media elsewhere.
func InlineDataFromURL(ctx context.Context, url string) (*models.InlineData, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if len(body) > maxInlineBytes {
		return nil, fmt.Errorf("file %s exceeds inline limit of %d bytes", url, maxInlineBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &models.InlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(body),
	}, nil
}

func (g *Gemini_Model) baseURL() string {
	if g.BaseURL != "" {
		return g.BaseURL
	}
	return DefaultBaseURL
}

func (g *Gemini_Model) apiKey() string {
	env := g.APIKeyEnv
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	return os.Getenv(env)
}

// errorBody extracts the useful part of a Google API error payload.
func errorBody(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(body)
}
