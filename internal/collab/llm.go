package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
)

// ErrEmptyCompletion indicates the LLM returned no choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// LLMClient calls the completion service over HTTP.
type LLMClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *httpretry.Client
}

// NewLLMClient creates a completion service client.
func NewLLMClient(baseURL, model string, client *httpretry.Client) *LLMClient {
	return &LLMClient{
		baseURL:     baseURL,
		model:       model,
		temperature: 0.2,
		maxTokens:   8192,
		client:      client,
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete issues one completion request and returns the first choice text.
func (c *LLMClient) Complete(ctx context.Context, messages []Message) (string, error) {
	req := completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var resp completionResponse
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("requesting completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
