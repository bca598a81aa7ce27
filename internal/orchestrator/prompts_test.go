package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

func TestPRTitleTruncatesDescription(t *testing.T) {
	tt := task.New(task.CreateRequest{
		Type:        task.TypeFeatureBuild,
		Description: strings.Repeat("long description ", 20),
		Repo:        "o/r",
		Language:    "go",
	})

	title := prTitle(tt)
	assert.True(t, strings.HasPrefix(title, "feat: "))
	assert.LessOrEqual(t, len([]rune(title)), len("feat: ")+73)
}

func TestBuildPRBodySections(t *testing.T) {
	tt := task.New(task.CreateRequest{
		Type:        task.TypeBugFix,
		Description: "fix the thing",
		Repo:        "o/r",
		Language:    "go",
	})
	tt.WorkingBranch = "bugfix/deadbeef"
	tt.Specification = "1. Objective\ndo the thing"
	tt.CodeScore = &task.Score{Correctness: 9, Overall: 8.7}
	tt.GateResult = &task.GateResult{
		Lint: true, Security: true, Complexity: true, Coverage: true,
		CoveragePct: 88.5, AllPassed: true,
	}
	tt.AddArtifact(task.NewArtifact("main.go", task.ArtifactTypeSourceFile, "main.go", 0))
	tt.AddArtifact(task.NewArtifact("test-results-1", task.ArtifactTypeTestResults, "", 10))

	body := buildPRBody(tt)
	assert.Contains(t, body, "Code quality")
	assert.Contains(t, body, "**8.7**")
	assert.Contains(t, body, "Gate checks")
	assert.Contains(t, body, "88.5")
	assert.Contains(t, body, "1. Objective")
	assert.Contains(t, body, "1 changed files, 1 test-result artifacts")
	assert.NotContains(t, body, "did not fully pass")
}

func TestFallbackContextUsesTaskFields(t *testing.T) {
	tt := task.New(task.CreateRequest{
		Type:            task.TypeRefactor,
		Description:     "restructure storage",
		Repo:            "o/r",
		BaseBranch:      "develop",
		Language:        "go",
		ReferencedFiles: []string{"store.go"},
	})

	ctx := fallbackContext(tt)
	assert.Contains(t, ctx, "o/r")
	assert.Contains(t, ctx, "develop")
	assert.Contains(t, ctx, "restructure storage")
	assert.Contains(t, ctx, "store.go")
}

func TestTestCommandPerLanguage(t *testing.T) {
	assert.Contains(t, testCommand("go"), "go test")
	assert.Contains(t, testCommand("Python"), "pytest")
	assert.Contains(t, testCommand("typescript"), "npm test")
	assert.Equal(t, "make test", testCommand("cobol"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}
