package collab

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// DefaultChecks is the gate check set requested before PR creation.
var DefaultChecks = []string{"lint", "security", "complexity", "coverage"}

// GateClient calls the gate engine over HTTP.
type GateClient struct {
	baseURL string
	client  *httpretry.Client
}

// NewGateClient creates a gate engine client.
func NewGateClient(baseURL string, client *httpretry.Client) *GateClient {
	return &GateClient{baseURL: baseURL, client: client}
}

// checkResponse maps the gate engine's per-check wire format.
type checkResponse struct {
	Checks map[string]struct {
		Passed      bool    `json:"passed"`
		CoveragePct float64 `json:"coverage_pct"`
	} `json:"per_check"`
	AllPassed bool           `json:"all_passed"`
	Details   map[string]any `json:"details"`
}

// Check runs the requested checks against the branch. Per-check defaults
// are applied here, at the boundary; a check absent from the response
// counts as failed.
func (c *GateClient) Check(ctx context.Context, req CheckRequest) (*task.GateResult, error) {
	var resp checkResponse
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/check", req, &resp); err != nil {
		return nil, fmt.Errorf("running gate checks: %w", err)
	}

	result := &task.GateResult{
		Lint:       resp.Checks["lint"].Passed,
		Security:   resp.Checks["security"].Passed,
		Complexity: resp.Checks["complexity"].Passed,
		Coverage:   resp.Checks["coverage"].Passed,
		AllPassed:  resp.AllPassed,
		Details:    resp.Details,
	}
	result.CoveragePct = resp.Checks["coverage"].CoveragePct
	return result, nil
}
