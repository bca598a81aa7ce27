package collab

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// ScorerClient calls the quality scorer over HTTP.
type ScorerClient struct {
	baseURL string
	client  *httpretry.Client
}

// NewScorerClient creates a scorer client.
func NewScorerClient(baseURL string, client *httpretry.Client) *ScorerClient {
	return &ScorerClient{baseURL: baseURL, client: client}
}

// scoreResponse maps the scorer's wire format onto the typed Score. The
// dimensions arrive nested; defaults and clamping are applied here, once,
// at the boundary.
type scoreResponse struct {
	Dimensions struct {
		Correctness   float64 `json:"correctness"`
		Completeness  float64 `json:"completeness"`
		Clarity       float64 `json:"clarity"`
		Consistency   float64 `json:"consistency"`
		Security      float64 `json:"security"`
		Performance   float64 `json:"performance"`
		TestCoverage  float64 `json:"test_coverage"`
		ErrorHandling float64 `json:"error_handling"`
		Documentation float64 `json:"documentation"`
		Testability   float64 `json:"testability"`
	} `json:"dimensions"`
	OverallScore float64 `json:"overall_score"`
	Feedback     string  `json:"feedback"`
}

// Score submits content for assessment. Returned values are clamped to the
// 0-10 scale; scorer output is treated as untrusted input.
func (c *ScorerClient) Score(ctx context.Context, req ScoreRequest) (*task.Score, error) {
	var resp scoreResponse
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/score", req, &resp); err != nil {
		return nil, fmt.Errorf("scoring %s: %w", req.ContentType, err)
	}

	score := &task.Score{
		Correctness:   resp.Dimensions.Correctness,
		Completeness:  resp.Dimensions.Completeness,
		Clarity:       resp.Dimensions.Clarity,
		Consistency:   resp.Dimensions.Consistency,
		Security:      resp.Dimensions.Security,
		Performance:   resp.Dimensions.Performance,
		TestCoverage:  resp.Dimensions.TestCoverage,
		ErrorHandling: resp.Dimensions.ErrorHandling,
		Documentation: resp.Dimensions.Documentation,
		Testability:   resp.Dimensions.Testability,
		Overall:       resp.OverallScore,
		Feedback:      resp.Feedback,
	}
	score.Clamp()
	return score, nil
}
