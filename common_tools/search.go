package common_tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const perplexityURL = "https://api.perplexity.ai/chat/completions"

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model            string              `json:"model"`
	Messages         []perplexityMessage `json:"messages"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	Temperature      float64             `json:"temperature,omitempty"`
	TopP             float64             `json:"top_p,omitempty"`
	Stream           bool                `json:"stream"`
	FrequencyPenalty float64             `json:"frequency_penalty,omitempty"`
}

type perplexityResponse struct {
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
}

// Search is a tool to search the web using Perplexity's API
func Search(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("search query cannot be empty")
	}

	apiKey := os.Getenv("PERPLEXITY_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("PERPLEXITY_API_KEY environment variable not set")
	}

	requestBody := perplexityRequest{
		Model: "sonar",
		Messages: []perplexityMessage{
			{Role: "system", Content: "Be precise and concise. Provide factual information from the web search results."},
			{Role: "user", Content: query},
		},
		MaxTokens:        256,
		Temperature:      0.2,
		TopP:             0.9,
		FrequencyPenalty: 1.0,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("error marshalling request body: %w", err)
	}

	req, err := http.NewRequest("POST", perplexityURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request to Perplexity API: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Perplexity API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", fmt.Errorf("error unmarshalling Perplexity API response: %w", err)
	}

	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		return parsed.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("no content found in Perplexity API response")
}
