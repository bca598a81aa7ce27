package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
)

// ErrNoSession indicates the agent did not return a session id.
var ErrNoSession = errors.New("agent returned no session id")

// AgentClient drives the coding sandbox over HTTP. Start/improve/fix calls
// use the long-timeout client; polls use the short-timeout client so a slow
// poll cannot eat the poll budget.
type AgentClient struct {
	baseURL string
	long    *httpretry.Client
	short   *httpretry.Client
}

// NewAgentClient creates a coding agent client.
func NewAgentClient(baseURL string, long, short *httpretry.Client) *AgentClient {
	return &AgentClient{baseURL: baseURL, long: long, short: short}
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// Start launches a coding session and returns its id.
func (c *AgentClient) Start(ctx context.Context, req StartRequest) (string, error) {
	var resp startResponse
	if err := c.long.PostJSON(ctx, c.baseURL+"/v1/sessions", req, &resp); err != nil {
		return "", fmt.Errorf("starting coding session: %w", err)
	}
	if resp.SessionID == "" {
		return "", ErrNoSession
	}
	return resp.SessionID, nil
}

type pollRequest struct {
	SessionID string `json:"session_id"`
}

// Poll reports the current session state.
func (c *AgentClient) Poll(ctx context.Context, sessionID string) (*PollResult, error) {
	var resp PollResult
	if err := c.short.PostJSON(ctx, c.baseURL+"/v1/sessions/poll", pollRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, fmt.Errorf("polling session %s: %w", sessionID, err)
	}
	return &resp, nil
}

// Improve asks the agent to address scored weaknesses.
func (c *AgentClient) Improve(ctx context.Context, req ImproveRequest) error {
	if err := c.long.PostJSON(ctx, c.baseURL+"/v1/sessions/improve", req, nil); err != nil {
		return fmt.Errorf("requesting improvement: %w", err)
	}
	return nil
}

// RunTests executes the test command in the sandbox.
func (c *AgentClient) RunTests(ctx context.Context, req RunTestsRequest) (*TestRunResult, error) {
	var resp TestRunResult
	if err := c.long.PostJSON(ctx, c.baseURL+"/v1/tests/run", req, &resp); err != nil {
		return nil, fmt.Errorf("running tests: %w", err)
	}
	return &resp, nil
}

// FixTests asks the agent to repair failing tests or missing coverage.
func (c *AgentClient) FixTests(ctx context.Context, req FixTestsRequest) error {
	if err := c.long.PostJSON(ctx, c.baseURL+"/v1/tests/fix", req, nil); err != nil {
		return fmt.Errorf("requesting test fix: %w", err)
	}
	return nil
}

// FixGates asks the agent to address failed gate checks.
func (c *AgentClient) FixGates(ctx context.Context, req FixGatesRequest) error {
	if err := c.long.PostJSON(ctx, c.baseURL+"/v1/gates/fix", req, nil); err != nil {
		return fmt.Errorf("requesting gate fix: %w", err)
	}
	return nil
}
