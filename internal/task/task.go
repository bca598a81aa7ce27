// Package task defines the task lifecycle model: the task record, its status
// state machine, quality scores, gate results, and artifacts.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type categorizes the kind of coding work a task performs.
type Type string

const (
	TypeFeatureBuild Type = "FEATURE_BUILD"
	TypeBugFix       Type = "BUG_FIX"
	TypeRefactor     Type = "REFACTOR"
	TypeTestGen      Type = "TEST_GEN"
)

// BranchPrefix returns the working-branch prefix for the task type.
func (t Type) BranchPrefix() string {
	switch t {
	case TypeFeatureBuild:
		return "feature"
	case TypeBugFix:
		return "bugfix"
	case TypeRefactor:
		return "refactor"
	case TypeTestGen:
		return "tests"
	default:
		return "task"
	}
}

// PRPrefix returns the conventional-commit prefix for PR titles.
func (t Type) PRPrefix() string {
	switch t {
	case TypeFeatureBuild:
		return "feat"
	case TypeBugFix:
		return "fix"
	case TypeRefactor:
		return "refactor"
	case TypeTestGen:
		return "test"
	default:
		return "chore"
	}
}

// Valid reports whether the type is one of the known task types.
func (t Type) Valid() bool {
	switch t {
	case TypeFeatureBuild, TypeBugFix, TypeRefactor, TypeTestGen:
		return true
	}
	return false
}

// Status represents a task's position in the pipeline state machine.
type Status string

const (
	StatusReceived           Status = "RECEIVED"
	StatusContextCompiling   Status = "CONTEXT_COMPILING"
	StatusSpecGenerating     Status = "SPEC_GENERATING"
	StatusSpecReview         Status = "SPEC_REVIEW"
	StatusPendingHumanReview Status = "PENDING_HUMAN_REVIEW"
	StatusCoding             Status = "CODING"
	StatusSelfReview         Status = "SELF_REVIEW"
	StatusTesting            Status = "TESTING"
	StatusGateCheck          Status = "GATE_CHECK"
	StatusPRCreated          Status = "PR_CREATED"
	StatusComplete           Status = "COMPLETE"
	StatusFailed             Status = "FAILED"
	StatusCancelled          Status = "CANCELLED"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// forwardTransitions defines the pipeline edges. FAILED and CANCELLED are
// additionally reachable from every non-terminal state and are not listed.
var forwardTransitions = map[Status][]Status{
	StatusReceived:           {StatusContextCompiling},
	StatusContextCompiling:   {StatusSpecGenerating},
	StatusSpecGenerating:     {StatusSpecReview},
	StatusSpecReview:         {StatusCoding, StatusPendingHumanReview},
	StatusPendingHumanReview: {StatusCoding},
	StatusCoding:             {StatusSelfReview},
	StatusSelfReview:         {StatusTesting},
	StatusTesting:            {StatusGateCheck},
	StatusGateCheck:          {StatusPRCreated},
	StatusPRCreated:          {StatusComplete},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Score is a quality assessment returned by the scorer collaborator.
// Dimensions and the overall value are on a 0-10 scale.
type Score struct {
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

	Overall  float64 `json:"overall_score"`
	Feedback string  `json:"feedback,omitempty"`
}

// Dimensions returns the named dimension values in a stable order.
func (s *Score) Dimensions() map[string]float64 {
	return map[string]float64{
		"correctness":    s.Correctness,
		"completeness":   s.Completeness,
		"clarity":        s.Clarity,
		"consistency":    s.Consistency,
		"security":       s.Security,
		"performance":    s.Performance,
		"test_coverage":  s.TestCoverage,
		"error_handling": s.ErrorHandling,
		"documentation":  s.Documentation,
		"testability":    s.Testability,
	}
}

// WeakDimensions returns the names of dimensions strictly below floor,
// sorted for deterministic feedback prompts.
func (s *Score) WeakDimensions(floor float64) []string {
	ordered := []string{
		"correctness", "completeness", "clarity", "consistency", "security",
		"performance", "test_coverage", "error_handling", "documentation", "testability",
	}
	dims := s.Dimensions()
	var weak []string
	for _, name := range ordered {
		if dims[name] < floor {
			weak = append(weak, name)
		}
	}
	return weak
}

// Clamp bounds the overall value and all dimensions to the 0-10 scale.
// Scorer output is untrusted input; clamping happens once at the boundary.
func (s *Score) Clamp() {
	clamp := func(v *float64) {
		if *v < 0 {
			*v = 0
		} else if *v > 10 {
			*v = 10
		}
	}
	clamp(&s.Correctness)
	clamp(&s.Completeness)
	clamp(&s.Clarity)
	clamp(&s.Consistency)
	clamp(&s.Security)
	clamp(&s.Performance)
	clamp(&s.TestCoverage)
	clamp(&s.ErrorHandling)
	clamp(&s.Documentation)
	clamp(&s.Testability)
	clamp(&s.Overall)
}

// GateResult holds the outcome of the pre-PR quality gate checks.
type GateResult struct {
	Lint        bool           `json:"lint"`
	Security    bool           `json:"security"`
	Complexity  bool           `json:"complexity"`
	Coverage    bool           `json:"coverage"`
	CoveragePct float64        `json:"coverage_pct"`
	AllPassed   bool           `json:"all_passed"`
	Details     map[string]any `json:"details,omitempty"`
}

// FailedChecks returns the names of checks that did not pass.
func (g *GateResult) FailedChecks() []string {
	var failed []string
	if !g.Lint {
		failed = append(failed, "lint")
	}
	if !g.Security {
		failed = append(failed, "security")
	}
	if !g.Complexity {
		failed = append(failed, "complexity")
	}
	if !g.Coverage {
		failed = append(failed, "coverage")
	}
	return failed
}

// ArtifactType categorizes task outputs.
type ArtifactType string

const (
	ArtifactTypeSourceFile  ArtifactType = "source_file"
	ArtifactTypeTestResults ArtifactType = "test_results"
)

// Artifact is a named, typed reference to a task output. Artifacts are
// append-only and owned by exactly one task.
type Artifact struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      ArtifactType `json:"type"`
	Path      string       `json:"path,omitempty"`
	SizeBytes int64        `json:"size_bytes"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewArtifact creates an artifact with a generated id.
func NewArtifact(name string, typ ArtifactType, path string, size int64) Artifact {
	return Artifact{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      typ,
		Path:      path,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	}
}

// LogEntry is one ordered line of a task's lifecycle trace.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Stage identifies the pipeline stage the driver resumes from after a
// suspension. Stored on the record so resume survives a suspended driver.
type Stage string

const (
	StageReceive    Stage = "receive"
	StageContext    Stage = "context"
	StageSpecGen    Stage = "spec_generation"
	StageSpecReview Stage = "spec_review"
	StageCoding     Stage = "coding"
	StageSelfReview Stage = "self_review"
	StageTesting    Stage = "testing"
	StageGateCheck  Stage = "gate_check"
	StagePR         Stage = "pr_creation"
	StageComplete   Stage = "complete"
)

// Task is the unit of work and its full lifecycle trace.
type Task struct {
	ID string `json:"id"`

	// Immutable inputs.
	Type            Type     `json:"type"`
	Description     string   `json:"description"`
	Repo            string   `json:"repo"`
	BaseBranch      string   `json:"base_branch"`
	Language        string   `json:"language"`
	Framework       string   `json:"framework,omitempty"`
	Complexity      string   `json:"complexity,omitempty"`
	ReferencedFiles []string `json:"referenced_files,omitempty"`
	Requirements    []string `json:"requirements,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`

	// Lifecycle fields.
	Status          Status      `json:"status"`
	WorkingBranch   string      `json:"working_branch,omitempty"`
	CompiledContext string      `json:"compiled_context,omitempty"`
	Specification   string      `json:"specification,omitempty"`
	SpecScore       *Score      `json:"spec_score,omitempty"`
	CodeScore       *Score      `json:"code_score,omitempty"`
	GateResult      *GateResult `json:"gate_result,omitempty"`
	PRURL           string      `json:"pr_url,omitempty"`
	PRNumber        int         `json:"pr_number,omitempty"`

	SpecRevisions     int `json:"spec_revision_count"`
	CodingIterations  int `json:"coding_iteration_count"`
	TestFixIterations int `json:"test_fix_iteration_count"`

	ResumeStage Stage `json:"resume_stage,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`

	Logs      []LogEntry `json:"logs,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`

	Error         string `json:"error,omitempty"`
	HumanFeedback string `json:"human_feedback,omitempty"`
}

// CreateRequest holds the immutable inputs for a new task.
type CreateRequest struct {
	Type            Type
	Description     string
	Repo            string
	BaseBranch      string
	Language        string
	Framework       string
	Complexity      string
	Specification   string
	ReferencedFiles []string
	Requirements    []string
	Constraints     []string
}

// New creates a task in RECEIVED with a generated id.
func New(req CreateRequest) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:              uuid.New().String(),
		Type:            req.Type,
		Description:     req.Description,
		Repo:            req.Repo,
		BaseBranch:      req.BaseBranch,
		Language:        req.Language,
		Framework:       req.Framework,
		Complexity:      req.Complexity,
		Specification:   req.Specification,
		ReferencedFiles: append([]string(nil), req.ReferencedFiles...),
		Requirements:    append([]string(nil), req.Requirements...),
		Constraints:     append([]string(nil), req.Constraints...),
		Status:          StatusReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// WorkingBranchName derives the deterministic working-branch name from the
// task type and the first 8 hex characters of the task id.
func (t *Task) WorkingBranchName() string {
	id := strings.ReplaceAll(t.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s/%s", t.Type.BranchPrefix(), id)
}

// Transition moves the task to the given status, enforcing the state
// machine. The first terminal transition stamps CompletedAt and duration.
func (t *Task) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	if to.IsTerminal() && t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.DurationSeconds = now.Sub(t.CreatedAt).Seconds()
	}
	return nil
}

// AppendLog appends one ordered log line to the task trace.
func (t *Task) AppendLog(format string, args ...any) {
	t.Logs = append(t.Logs, LogEntry{
		Time:    time.Now().UTC(),
		Message: fmt.Sprintf(format, args...),
	})
	t.UpdatedAt = time.Now().UTC()
}

// AddArtifact appends an artifact to the task.
func (t *Task) AddArtifact(a Artifact) {
	t.Artifacts = append(t.Artifacts, a)
	t.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the task. Readers always receive clones so a
// record mutated mid-pipeline is never observed torn.
func (t *Task) Clone() *Task {
	c := *t
	c.ReferencedFiles = append([]string(nil), t.ReferencedFiles...)
	c.Requirements = append([]string(nil), t.Requirements...)
	c.Constraints = append([]string(nil), t.Constraints...)
	c.Logs = append([]LogEntry(nil), t.Logs...)
	c.Artifacts = append([]Artifact(nil), t.Artifacts...)
	if t.SpecScore != nil {
		s := *t.SpecScore
		c.SpecScore = &s
	}
	if t.CodeScore != nil {
		s := *t.CodeScore
		c.CodeScore = &s
	}
	if t.GateResult != nil {
		g := *t.GateResult
		g.Details = make(map[string]any, len(t.GateResult.Details))
		for k, v := range t.GateResult.Details {
			g.Details[k] = v
		}
		c.GateResult = &g
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Summary is the list-view projection of a task.
type Summary struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Status        Status     `json:"status"`
	Description   string     `json:"description"`
	Repo          string     `json:"repo"`
	WorkingBranch string     `json:"working_branch,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Summarize returns the list-view projection.
func (t *Task) Summarize() Summary {
	return Summary{
		ID:            t.ID,
		Type:          t.Type,
		Status:        t.Status,
		Description:   t.Description,
		Repo:          t.Repo,
		WorkingBranch: t.WorkingBranch,
		PRURL:         t.PRURL,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		CompletedAt:   t.CompletedAt,
	}
}
