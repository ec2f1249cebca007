// internal/ai/chat.go
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatClient proxies free-text queries to the generative-language API
// (generateContent endpoint) for the dashboard chatbot.
type ChatClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Contents []chatContent `json:"contents"`
}

type chatContent struct {
	Parts []chatPart `json:"parts"`
}

type chatPart struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Candidates []struct {
		Content chatContent `json:"content"`
	} `json:"candidates"`
}

// Query sends one free-text prompt and returns the model's reply text.
func (c *ChatClient) Query(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Contents: []chatContent{{Parts: []chatPart{{Text: query}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generative API status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generative API returned no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
