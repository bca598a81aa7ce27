package collab

import (
	"context"

	"github.com/fyrsmithlabs/taskd/internal/httpretry"
	"go.uber.org/zap"
)

// TraceClient records audit traces to the tracing sink. Fire-and-forget:
// failures are logged only.
type TraceClient struct {
	baseURL string
	client  *httpretry.Client
	logger  *zap.Logger
}

// NewTraceClient creates a tracing sink client. An empty baseURL disables
// recording.
func NewTraceClient(baseURL string, client *httpretry.Client, logger *zap.Logger) *TraceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceClient{baseURL: baseURL, client: client, logger: logger}
}

// RecordTrace emits one audit record.
func (c *TraceClient) RecordTrace(ctx context.Context, rec TraceRecord) {
	if c.baseURL == "" {
		return
	}
	if err := c.client.PostJSON(ctx, c.baseURL+"/v1/traces", rec, nil); err != nil {
		c.logger.Warn("trace record failed",
			zap.String("trace_id", rec.ID),
			zap.String("name", rec.Name),
			zap.Error(err))
	}
}
