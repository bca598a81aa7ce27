package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

// specSystemPrompt instructs the LLM to produce an implementation-ready
// specification with a fixed ten-section structure.
const specSystemPrompt = `You are a senior software architect. Produce an implementation-ready
technical specification for the described coding task. The specification must contain exactly
these ten sections, in order:

1. Objective
2. Architecture
3. API Contracts
4. Data Model
5. Error Handling
6. Testing Strategy
7. File Layout
8. Edge Cases
9. Performance Considerations
10. Security Considerations

Be concrete: name files, types, and functions. Do not include prose outside the sections.`

// codingInstructions are the fixed quality requirements appended to every
// coding prompt.
const codingInstructions = `Quality requirements:
- Write tests achieving at least 80% coverage.
- No stubs, placeholders, or TODO comments.
- Follow the idiomatic style of the target language and framework.
- Keep changes scoped to the task; do not refactor unrelated code.`

// buildSpecUserPrompt assembles the spec-generation user message from the
// task fields and compiled context.
func buildSpecUserPrompt(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task type: %s\n", t.Type)
	fmt.Fprintf(&b, "Repository: %s (base branch %s)\n", t.Repo, t.BaseBranch)
	fmt.Fprintf(&b, "Language: %s", t.Language)
	if t.Framework != "" {
		fmt.Fprintf(&b, " / %s", t.Framework)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Description:\n%s\n", t.Description)
	writeList(&b, "Requirements", t.Requirements)
	writeList(&b, "Constraints", t.Constraints)
	writeList(&b, "Referenced files", t.ReferencedFiles)
	if t.CompiledContext != "" {
		fmt.Fprintf(&b, "\nRepository context:\n%s\n", t.CompiledContext)
	}
	return b.String()
}

// buildRevisionPrompt asks the LLM to revise a specification against
// scorer feedback.
func buildRevisionPrompt(spec, feedback string) string {
	var b strings.Builder
	b.WriteString("Revise the following specification to address the reviewer feedback. ")
	b.WriteString("Keep the same ten-section structure and return the full revised specification.\n\n")
	fmt.Fprintf(&b, "Reviewer feedback:\n%s\n\n", feedback)
	fmt.Fprintf(&b, "Current specification:\n%s\n", spec)
	return b.String()
}

// buildCodingPrompt assembles the single prompt handed to the coding agent.
func buildCodingPrompt(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement the following %s task in %s.\n\n", t.Type, t.Language)
	fmt.Fprintf(&b, "Description:\n%s\n\n", t.Description)
	if t.Specification != "" {
		fmt.Fprintf(&b, "Specification:\n%s\n\n", t.Specification)
	}
	writeList(&b, "Requirements", t.Requirements)
	writeList(&b, "Constraints", t.Constraints)
	if t.CompiledContext != "" {
		fmt.Fprintf(&b, "\nRepository context:\n%s\n\n", t.CompiledContext)
	}
	b.WriteString(codingInstructions)
	return b.String()
}

// fallbackContext synthesizes a minimal context string from the task's own
// fields when the context service is unavailable.
func fallbackContext(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (branch %s)\n", t.Repo, t.BaseBranch)
	fmt.Fprintf(&b, "Language: %s", t.Language)
	if t.Framework != "" {
		fmt.Fprintf(&b, " / %s", t.Framework)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Description)
	writeList(&b, "Referenced files", t.ReferencedFiles)
	writeList(&b, "Requirements", t.Requirements)
	writeList(&b, "Constraints", t.Constraints)
	return b.String()
}

// writeList writes a titled bullet list, omitting empty lists.
func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// prTitle builds the PR title with the conventional-commit prefix for the
// task type.
func prTitle(t *task.Task) string {
	return fmt.Sprintf("%s: %s", t.Type.PRPrefix(), truncate(t.Description, 72))
}

// buildPRBody builds the structured PR description: score table, gate
// table, truncated specification, and test-artifact summary.
func buildPRBody(t *task.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Automated task %s\n\n", t.ID)
	fmt.Fprintf(&b, "Type: `%s` | Branch: `%s`\n\n", t.Type, t.WorkingBranch)

	if score := t.CodeScore; score != nil {
		b.WriteString("### Code quality\n\n")
		b.WriteString("| Dimension | Score |\n|---|---|\n")
		dims := score.Dimensions()
		for _, name := range []string{
			"correctness", "completeness", "clarity", "consistency", "security",
			"performance", "test_coverage", "error_handling", "documentation", "testability",
		} {
			fmt.Fprintf(&b, "| %s | %.1f |\n", name, dims[name])
		}
		fmt.Fprintf(&b, "| **overall** | **%.1f** |\n\n", score.Overall)
	}

	if gate := t.GateResult; gate != nil {
		b.WriteString("### Gate checks\n\n")
		b.WriteString("| Check | Passed |\n|---|---|\n")
		fmt.Fprintf(&b, "| lint | %v |\n", gate.Lint)
		fmt.Fprintf(&b, "| security | %v |\n", gate.Security)
		fmt.Fprintf(&b, "| complexity | %v |\n", gate.Complexity)
		fmt.Fprintf(&b, "| coverage (%.1f%%) | %v |\n\n", gate.CoveragePct, gate.Coverage)
		if !gate.AllPassed {
			b.WriteString("> Gate checks did not fully pass; see task record for details.\n\n")
		}
	}

	if t.Specification != "" {
		b.WriteString("### Specification\n\n")
		b.WriteString(truncate(t.Specification, 2000))
		b.WriteString("\n\n")
	}

	var tests int
	for _, a := range t.Artifacts {
		if a.Type == task.ArtifactTypeTestResults {
			tests++
		}
	}
	fmt.Fprintf(&b, "### Artifacts\n\n%d changed files, %d test-result artifacts.\n",
		len(t.Artifacts)-tests, tests)

	return b.String()
}

// testCommand returns the coverage-reporting test command for a language.
func testCommand(language string) string {
	switch strings.ToLower(language) {
	case "go", "golang":
		return "go test ./... -coverprofile=coverage.out"
	case "python":
		return "pytest --cov --cov-report=term"
	case "javascript", "typescript":
		return "npm test -- --coverage"
	case "java":
		return "mvn test jacoco:report"
	case "rust":
		return "cargo tarpaulin --out Stdout"
	default:
		return "make test"
	}
}

// truncate shortens s to at most n runes, appending an ellipsis marker.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
