// Package llm is a minimal client for an OpenAI-compatible chat
// completions API. The provider is treated as a black box beyond its
// request/response wire shape; retry and quota policy live in the
// orchestration layer, not here.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// HTTPClient allows injecting a fake transport in tests.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the provider for structured output, e.g.
// {"type": "json_object"}.
type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *apiError `json:"error,omitempty"`
}

// Content returns the first choice's message content, or "" when the
// provider returned no choices.
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type Client struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

// NewClient builds a client for the configured endpoint. An empty baseURL
// selects the default OpenAI endpoint; any other value is normalized to
// end in /v1/chat/completions.
func NewClient(apiKey, baseURL string) *Client {
	return NewClientWithHTTP(apiKey, baseURL, &http.Client{Timeout: 60 * time.Second})
}

// NewClientWithHTTP creates a client with an injected transport.
func NewClientWithHTTP(apiKey, baseURL string, client HTTPClient) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	} else {
		baseURL = strings.TrimSuffix(baseURL, "/")
		if !strings.HasSuffix(baseURL, "/chat/completions") {
			if strings.HasSuffix(baseURL, "/v1") {
				baseURL += "/chat/completions"
			} else {
				baseURL += "/v1/chat/completions"
			}
		}
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

// ChatCompletion issues one non-streaming completion request.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("read chat response: %w", err)
	}

	var resp ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return ChatResponse{}, fmt.Errorf("decode chat response (status %d): %w", httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		return ChatResponse{}, fmt.Errorf("provider error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK {
		return ChatResponse{}, fmt.Errorf("provider returned status %d", httpResp.StatusCode)
	}
	return resp, nil
}
