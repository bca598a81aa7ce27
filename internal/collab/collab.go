// Package collab holds the clients for the external services the pipeline
// delegates work to: context compilation, LLM completion, quality scoring,
// the coding sandbox, the gate engine, the VCS host, chat notification, and
// the tracing sink.
//
// Stage logic depends only on the interfaces here; the HTTP implementations
// share the retrying client from internal/httpretry.
package collab

import (
	"context"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

// CompileRequest asks the context service to compile repository context.
type CompileRequest struct {
	Repo         string   `json:"repo"`
	Branch       string   `json:"branch"`
	Files        []string `json:"files,omitempty"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	Language     string   `json:"language"`
	Framework    string   `json:"framework,omitempty"`
	MaxTokens    int      `json:"max_tokens"`
}

// CompileResult is the context service response.
type CompileResult struct {
	CompiledContext string `json:"compiled_context"`
	TokenCount      int    `json:"token_count"`
}

// ContextCompiler compiles repository context for a task.
type ContextCompiler interface {
	Compile(ctx context.Context, req CompileRequest) (*CompileResult, error)
}

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionService issues LLM completion requests. Used for specification
// generation and revision, nothing else.
type CompletionService interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ScoreRequest asks the scorer to assess a piece of content.
type ScoreRequest struct {
	Content       string `json:"content"`
	ContentType   string `json:"content_type"` // specification or code
	TaskType      string `json:"task_type"`
	Language      string `json:"language"`
	Context       string `json:"context,omitempty"`
	Specification string `json:"specification,omitempty"`
}

// Scorer assesses content quality across ten dimensions.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (*task.Score, error)
}

// StartRequest starts a coding session in the sandbox.
type StartRequest struct {
	TaskText     string `json:"task_text"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	BaseBranch   string `json:"base_branch"`
	Language     string `json:"language"`
	Framework    string `json:"framework,omitempty"`
	SandboxImage string `json:"sandbox_image"`
}

// Session poll statuses reported by the coding agent.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionError     = "error"
)

// PollResult is one snapshot of a coding session.
type PollResult struct {
	Status       string   `json:"status"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ImproveRequest asks the agent to address scored weaknesses.
type ImproveRequest struct {
	Repo     string   `json:"repo"`
	Branch   string   `json:"branch"`
	Feedback string   `json:"feedback"`
	Weak     []string `json:"weak_dimensions,omitempty"`
}

// RunTestsRequest executes the test command in the sandbox.
type RunTestsRequest struct {
	Repo     string `json:"repo"`
	Branch   string `json:"branch"`
	Language string `json:"language"`
	Command  string `json:"command"`
}

// TestRunResult carries the sandbox test execution outcome.
type TestRunResult struct {
	ExitCode    int     `json:"exit_code"`
	Output      string  `json:"output"`
	CoveragePct float64 `json:"coverage_pct"`
}

// FixTestsRequest asks the agent to repair failing tests or coverage.
type FixTestsRequest struct {
	Repo        string  `json:"repo"`
	Branch      string  `json:"branch"`
	Output      string  `json:"output"`
	CoveragePct float64 `json:"coverage_pct"`
	MinCoverage float64 `json:"min_coverage_pct"`
}

// FixGatesRequest asks the agent to address failed gate checks.
type FixGatesRequest struct {
	Repo         string   `json:"repo"`
	Branch       string   `json:"branch"`
	FailedChecks []string `json:"failed_checks"`
}

// CodingAgent drives the coding sandbox.
type CodingAgent interface {
	Start(ctx context.Context, req StartRequest) (string, error)
	Poll(ctx context.Context, sessionID string) (*PollResult, error)
	Improve(ctx context.Context, req ImproveRequest) error
	RunTests(ctx context.Context, req RunTestsRequest) (*TestRunResult, error)
	FixTests(ctx context.Context, req FixTestsRequest) error
	FixGates(ctx context.Context, req FixGatesRequest) error
}

// CheckRequest runs the configured gate checks against a branch.
type CheckRequest struct {
	Repo     string   `json:"repo"`
	Branch   string   `json:"branch"`
	Language string   `json:"language"`
	Checks   []string `json:"checks"`
}

// GateEngine runs lint/security/complexity/coverage checks.
type GateEngine interface {
	Check(ctx context.Context, req CheckRequest) (*task.GateResult, error)
}

// Notifier posts chat notifications. Fire-and-forget: implementations
// swallow failures after logging and never return errors.
type Notifier interface {
	Post(ctx context.Context, channel, text string)
}

// TraceRecord is one audit record for the tracing sink.
type TraceRecord struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    any            `json:"input,omitempty"`
	Output   any            `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TraceSink records audit traces. Fire-and-forget.
type TraceSink interface {
	RecordTrace(ctx context.Context, rec TraceRecord)
}

// Label is a VCS host label.
type Label struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PRRequest creates a pull request.
type PRRequest struct {
	Repo      string   `json:"repo"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Head      string   `json:"head"`
	Base      string   `json:"base"`
	Labels    []string `json:"labels,omitempty"`
	Reviewers []string `json:"reviewers,omitempty"`
}

// PRResult is the created pull request reference.
type PRResult struct {
	URL    string `json:"html_url"`
	Number int    `json:"number"`
}

// VCSHost manages labels, pull requests, and reviewers.
type VCSHost interface {
	EnsureLabel(ctx context.Context, repo, name string) error
	ListLabels(ctx context.Context, repo string) ([]Label, error)
	CreatePR(ctx context.Context, req PRRequest) (*PRResult, error)
	RequestReviewers(ctx context.Context, repo string, number int, reviewers []string) error
}
