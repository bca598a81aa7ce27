package collab

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
)

// ContextClient calls the context-compilation service over HTTP.
type ContextClient struct {
	baseURL string
	client  *httpretry.Client
}

// NewContextClient creates a context service client.
func NewContextClient(baseURL string, client *httpretry.Client) *ContextClient {
	return &ContextClient{baseURL: baseURL, client: client}
}

// Compile requests compiled repository context within a token budget.
func (c *ContextClient) Compile(ctx context.Context, req CompileRequest) (*CompileResult, error) {
	var result CompileResult
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/compile", req, &result); err != nil {
		return nil, fmt.Errorf("compiling context: %w", err)
	}
	if result.CompiledContext == "" {
		return nil, fmt.Errorf("compiling context: empty compiled_context in response")
	}
	return &result, nil
}
