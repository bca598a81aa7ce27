package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"received to context", StatusReceived, StatusContextCompiling, true},
		{"context to spec gen", StatusContextCompiling, StatusSpecGenerating, true},
		{"spec review to coding", StatusSpecReview, StatusCoding, true},
		{"spec review to human review", StatusSpecReview, StatusPendingHumanReview, true},
		{"human review to coding", StatusPendingHumanReview, StatusCoding, true},
		{"pr created to complete", StatusPRCreated, StatusComplete, true},
		{"skip a stage", StatusReceived, StatusSpecGenerating, false},
		{"backwards", StatusCoding, StatusSpecReview, false},
		{"any to failed", StatusTesting, StatusFailed, true},
		{"any to cancelled", StatusReceived, StatusCancelled, true},
		{"out of complete", StatusComplete, StatusFailed, false},
		{"out of failed", StatusFailed, StatusCoding, false},
		{"out of cancelled", StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	task := New(CreateRequest{Type: TypeFeatureBuild, Description: "x", Repo: "o/r", Language: "go"})

	err := task.Transition(StatusCoding)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusReceived, task.Status)
}

func TestTransitionStampsCompletion(t *testing.T) {
	task := New(CreateRequest{Type: TypeBugFix, Description: "x", Repo: "o/r", Language: "go"})
	task.CreatedAt = time.Now().UTC().Add(-2 * time.Second)

	require.NoError(t, task.Transition(StatusFailed))
	require.NotNil(t, task.CompletedAt)
	assert.Greater(t, task.DurationSeconds, 1.0)

	stamped := *task.CompletedAt
	// Terminal states are final; a second stamp must not occur.
	require.Error(t, task.Transition(StatusCancelled))
	assert.Equal(t, stamped, *task.CompletedAt)
}

func TestWorkingBranchName(t *testing.T) {
	tests := []struct {
		typ    Type
		prefix string
	}{
		{TypeFeatureBuild, "feature/"},
		{TypeBugFix, "bugfix/"},
		{TypeRefactor, "refactor/"},
		{TypeTestGen, "tests/"},
	}

	for _, tt := range tests {
		task := New(CreateRequest{Type: tt.typ, Description: "x", Repo: "o/r", Language: "go"})
		branch := task.WorkingBranchName()
		assert.True(t, strings.HasPrefix(branch, tt.prefix), branch)

		suffix := strings.TrimPrefix(branch, tt.prefix)
		assert.Len(t, suffix, 8)
		assert.NotContains(t, suffix, "-")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	task := New(CreateRequest{
		Type:        TypeFeatureBuild,
		Description: "x",
		Repo:        "o/r",
		Language:    "go",
	})
	task.SpecScore = &Score{Overall: 7.5}
	task.GateResult = &GateResult{Lint: true, Details: map[string]any{"k": "v"}}
	task.AppendLog("first")

	clone := task.Clone()
	clone.SpecScore.Overall = 1.0
	clone.GateResult.Details["k"] = "changed"
	clone.AppendLog("second")
	clone.Requirements = append(clone.Requirements, "new")

	assert.Equal(t, 7.5, task.SpecScore.Overall)
	assert.Equal(t, "v", task.GateResult.Details["k"])
	assert.Len(t, task.Logs, 1)
	assert.Empty(t, task.Requirements)
}

func TestScoreWeakDimensions(t *testing.T) {
	s := &Score{
		Correctness: 9, Completeness: 6.5, Clarity: 8, Consistency: 8,
		Security: 5, Performance: 8, TestCoverage: 7, ErrorHandling: 8,
		Documentation: 8, Testability: 8,
	}

	weak := s.WeakDimensions(7.0)
	assert.Equal(t, []string{"completeness", "security"}, weak)

	assert.Empty(t, (&Score{
		Correctness: 8, Completeness: 8, Clarity: 8, Consistency: 8,
		Security: 8, Performance: 8, TestCoverage: 8, ErrorHandling: 8,
		Documentation: 8, Testability: 8,
	}).WeakDimensions(7.0))
}

func TestScoreClamp(t *testing.T) {
	s := &Score{Correctness: 14, Security: -3, Overall: 11.2}
	s.Clamp()

	assert.Equal(t, 10.0, s.Correctness)
	assert.Equal(t, 0.0, s.Security)
	assert.Equal(t, 10.0, s.Overall)
}

func TestGateResultFailedChecks(t *testing.T) {
	g := &GateResult{Lint: true, Security: false, Complexity: true, Coverage: false}
	assert.Equal(t, []string{"security", "coverage"}, g.FailedChecks())

	all := &GateResult{Lint: true, Security: true, Complexity: true, Coverage: true}
	assert.Empty(t, all.FailedChecks())
}

func TestSummarize(t *testing.T) {
	task := New(CreateRequest{Type: TypeRefactor, Description: "tidy", Repo: "o/r", Language: "go"})
	task.WorkingBranch = task.WorkingBranchName()
	task.PRURL = "https://example.com/pr/1"

	s := task.Summarize()
	assert.Equal(t, task.ID, s.ID)
	assert.Equal(t, TypeRefactor, s.Type)
	assert.Equal(t, task.WorkingBranch, s.WorkingBranch)
	assert.Equal(t, task.PRURL, s.PRURL)
}
