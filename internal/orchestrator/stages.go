package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/collab"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Stage progress percentages reported over the event stream.
const (
	pctReceived    = 5
	pctContext     = 15
	pctSpecGen     = 25
	pctSpecReview  = 35
	pctCodingStart = 40
	pctCodingEnd   = 70
	pctSelfReview  = 80
	pctTesting     = 88
	pctGateCheck   = 93
	pctPRCreated   = 97
	pctComplete    = 100
)

// enterStage transitions the task into a stage's status and records the
// resume point. A task already in the target status (resume after approve)
// passes through unchanged.
func (p *Pipeline) enterStage(ctx context.Context, id string, status task.Status, stage task.Stage) (*task.Task, error) {
	return p.update(ctx, id, func(t *task.Task) error {
		if t.Status != status {
			if err := t.Transition(status); err != nil {
				return err
			}
		}
		t.ResumeStage = stage
		return nil
	})
}

func (p *Pipeline) stageReceive(ctx context.Context, id string) (bool, error) {
	t, err := p.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageReceive, "task received", pctReceived)
	p.trace(ctx, collab.TraceRecord{
		ID:   t.ID,
		Name: "task.received",
		Input: map[string]any{
			"type": string(t.Type), "repo": t.Repo, "language": t.Language,
		},
	})
	return true, nil
}

// stageContext compiles repository context. The context service is
// best-effort: on failure the stage synthesizes context from the task's
// own fields and continues.
func (p *Pipeline) stageContext(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusContextCompiling, task.StageContext)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageContext, "compiling repository context", pctContext)

	var compiled string
	var tokens int
	result, err := p.collabs.Context.Compile(ctx, collab.CompileRequest{
		Repo:         t.Repo,
		Branch:       t.BaseBranch,
		Files:        t.ReferencedFiles,
		Description:  t.Description,
		Requirements: t.Requirements,
		Constraints:  t.Constraints,
		Language:     t.Language,
		Framework:    t.Framework,
		MaxTokens:    p.cfg.ContextTokenBudget,
	})
	if err != nil {
		p.logger.Warn(ctx, "context service unavailable, synthesizing context", zap.Error(err))
		compiled = fallbackContext(t)
	} else {
		compiled = result.CompiledContext
		tokens = result.TokenCount
	}

	_, err = p.update(ctx, id, func(t *task.Task) error {
		t.CompiledContext = compiled
		if tokens > 0 {
			t.AppendLog("context compiled: %d tokens", tokens)
		} else {
			t.AppendLog("context service unavailable, using synthesized context")
		}
		return nil
	})
	return err == nil, err
}

// stageSpecGen generates the technical specification, or keeps one the
// request already supplied. LLM failure here is fatal: nothing downstream
// can run without a specification.
func (p *Pipeline) stageSpecGen(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusSpecGenerating, task.StageSpecGen)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageSpecGen, "generating specification", pctSpecGen)

	if t.Specification != "" {
		_, err = p.update(ctx, id, func(t *task.Task) error {
			t.AppendLog("using caller-provided specification")
			return nil
		})
		return err == nil, err
	}

	spec, err := p.collabs.LLM.Complete(ctx, []collab.Message{
		{Role: "system", Content: specSystemPrompt},
		{Role: "user", Content: buildSpecUserPrompt(t)},
	})
	if err != nil {
		return false, fmt.Errorf("generating specification: %w", err)
	}

	p.trace(ctx, collab.TraceRecord{
		ID:     t.ID,
		Name:   "spec.generated",
		Output: map[string]any{"length": len(spec)},
	})

	_, err = p.update(ctx, id, func(t *task.Task) error {
		t.Specification = spec
		t.AppendLog("specification generated (%d chars)", len(spec))
		return nil
	})
	return err == nil, err
}

// stageSpecReview scores the specification and decides its fate: approve,
// revise within budget, or suspend for a human. Scorer outages approve by
// default so one flaky dependency cannot wedge the pipeline.
func (p *Pipeline) stageSpecReview(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusSpecReview, task.StageSpecReview)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageSpecReview, "reviewing specification", pctSpecReview)

	for {
		score, err := p.collabs.Scorer.Score(ctx, collab.ScoreRequest{
			Content:     t.Specification,
			ContentType: "specification",
			TaskType:    string(t.Type),
			Language:    t.Language,
			Context:     t.CompiledContext,
		})
		if err != nil {
			p.logger.Warn(ctx, "scorer unavailable, approving specification", zap.Error(err))
			_, uerr := p.update(ctx, id, func(t *task.Task) error {
				t.AppendLog("scorer unavailable, specification auto-approved")
				return nil
			})
			return uerr == nil, uerr
		}

		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.SpecScore = score
			t.AppendLog("specification scored %.1f (revision %d)", score.Overall, t.SpecRevisions)
			return nil
		})
		if err != nil {
			return false, err
		}

		switch {
		case score.Overall >= p.cfg.AutoApproveThreshold:
			p.logger.Info(ctx, "specification approved",
				zap.Float64("score", score.Overall))
			return true, nil

		case score.Overall < p.cfg.HumanReviewThreshold:
			return false, p.suspendForHumanReview(ctx, id,
				fmt.Sprintf("score %.1f is below the human-review threshold", score.Overall))

		case t.SpecRevisions >= p.cfg.MaxSpecRevisions:
			return false, p.suspendForHumanReview(ctx, id,
				fmt.Sprintf("max revisions reached, score %.1f after %d revisions",
					score.Overall, t.SpecRevisions))
		}

		revised, err := p.collabs.LLM.Complete(ctx, []collab.Message{
			{Role: "system", Content: specSystemPrompt},
			{Role: "user", Content: buildRevisionPrompt(t.Specification, score.Feedback)},
		})
		if err != nil {
			p.logger.Warn(ctx, "revision failed, escalating to human review", zap.Error(err))
			return false, p.suspendForHumanReview(ctx, id,
				fmt.Sprintf("revision attempt failed: %v", err))
		}

		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.Specification = revised
			t.SpecRevisions++
			t.AppendLog("specification revised (attempt %d)", t.SpecRevisions)
			return nil
		})
		if err != nil {
			return false, err
		}
	}
}

// suspendForHumanReview parks the task in PENDING_HUMAN_REVIEW and pings
// the review channel. The driver exits; Approve or Reject resumes it.
func (p *Pipeline) suspendForHumanReview(ctx context.Context, id, reason string) error {
	t, err := p.update(ctx, id, func(t *task.Task) error {
		if err := t.Transition(task.StatusPendingHumanReview); err != nil {
			return err
		}
		t.ResumeStage = task.StageCoding
		t.AppendLog("awaiting human review: %s", reason)
		return nil
	})
	if err != nil {
		return err
	}
	p.publish(ctx, t, task.StageSpecReview, "awaiting human review", pctSpecReview)
	score := "unscored"
	if t.SpecScore != nil {
		score = fmt.Sprintf("%.1f", t.SpecScore.Overall)
	}
	p.notify(ctx, p.reviewChan, fmt.Sprintf(
		"Task %s (%s, %s, score %s) needs specification review: %s\n%s\n"+
			"Approve: POST /api/v1/tasks/%s/approve | Reject: POST /api/v1/tasks/%s/reject",
		id, t.Type, t.Repo, score, reason, truncate(t.Description, 120), id, id))
	return nil
}

// stageCoding starts a sandbox coding session and polls it to completion.
// A session that ends failed or errored is fatal; transient poll errors
// consume a poll slot rather than failing the task.
func (p *Pipeline) stageCoding(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusCoding, task.StageCoding)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageCoding, "coding started", pctCodingStart)

	prompt := buildCodingPrompt(t)
	if t.HumanFeedback != "" {
		prompt += "\n\nReviewer guidance:\n" + t.HumanFeedback
	}

	sessionID, err := p.collabs.Agent.Start(ctx, collab.StartRequest{
		TaskText:     prompt,
		Repo:         t.Repo,
		Branch:       t.WorkingBranch,
		BaseBranch:   t.BaseBranch,
		Language:     t.Language,
		Framework:    t.Framework,
		SandboxImage: p.sandboxImage,
	})
	if err != nil {
		return false, fmt.Errorf("starting coding session: %w", err)
	}

	result, err := p.pollSession(ctx, t, sessionID)
	if err != nil {
		return false, err
	}
	if result.Status != collab.SessionCompleted {
		return false, fmt.Errorf("coding session %s: %s", result.Status, result.Error)
	}

	_, err = p.update(ctx, id, func(t *task.Task) error {
		t.CodingIterations++
		for _, f := range result.FilesChanged {
			t.AddArtifact(task.NewArtifact(f, task.ArtifactTypeSourceFile, f, 0))
		}
		t.AppendLog("coding session completed: %d files changed", len(result.FilesChanged))
		return nil
	})
	if err != nil {
		return false, err
	}
	p.trace(ctx, collab.TraceRecord{
		ID:     t.ID,
		Name:   "coding.completed",
		Output: map[string]any{"files_changed": len(result.FilesChanged)},
	})
	return true, nil
}

// pollSession polls a coding session until it leaves the running state or
// the poll budget runs out.
func (p *Pipeline) pollSession(ctx context.Context, t *task.Task, sessionID string) (*collab.PollResult, error) {
	interval := p.cfg.PollInterval.Duration()
	for i := 0; i < p.cfg.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		result, err := p.collabs.Agent.Poll(ctx, sessionID)
		if err != nil {
			p.logger.Warn(ctx, "poll failed", zap.Int("poll", i+1), zap.Error(err))
			continue
		}
		if result.Status != collab.SessionRunning {
			return result, nil
		}

		pct := pctCodingStart + (pctCodingEnd-pctCodingStart)*(i+1)/p.cfg.MaxPolls
		p.publish(ctx, t, task.StageCoding,
			fmt.Sprintf("coding in progress (poll %d/%d)", i+1, p.cfg.MaxPolls), pct)
	}
	return nil, fmt.Errorf("coding session %s did not finish within %d polls", sessionID, p.cfg.MaxPolls)
}

// stageSelfReview scores the produced code and asks the agent to improve
// weak dimensions within the iteration budget. The stage never blocks the
// pipeline: a persistently low score proceeds and the gate checks decide.
func (p *Pipeline) stageSelfReview(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusSelfReview, task.StageSelfReview)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageSelfReview, "reviewing code", pctSelfReview)

	for {
		score, err := p.collabs.Scorer.Score(ctx, collab.ScoreRequest{
			Content:       codeReviewContent(t),
			ContentType:   "code",
			TaskType:      string(t.Type),
			Language:      t.Language,
			Specification: t.Specification,
		})
		if err != nil {
			p.logger.Warn(ctx, "scorer unavailable, skipping self-review", zap.Error(err))
			_, uerr := p.update(ctx, id, func(t *task.Task) error {
				t.AppendLog("scorer unavailable, self-review skipped")
				return nil
			})
			return uerr == nil, uerr
		}

		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.CodeScore = score
			t.AppendLog("code scored %.1f (iteration %d)", score.Overall, t.CodingIterations)
			return nil
		})
		if err != nil {
			return false, err
		}

		if score.Overall >= p.cfg.AutoApproveThreshold {
			return true, nil
		}
		if t.CodingIterations >= p.cfg.MaxCodingIterations {
			p.logger.Info(ctx, "iteration budget exhausted, proceeding",
				zap.Float64("score", score.Overall))
			return true, nil
		}

		weak := score.WeakDimensions(p.cfg.DimensionFeedbackFloor)
		err = p.collabs.Agent.Improve(ctx, collab.ImproveRequest{
			Repo:     t.Repo,
			Branch:   t.WorkingBranch,
			Feedback: score.Feedback,
			Weak:     weak,
		})
		if err != nil {
			p.logger.Warn(ctx, "improve call failed, proceeding with current code", zap.Error(err))
			return true, nil
		}

		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.CodingIterations++
			t.AppendLog("improvement pass %d targeting %s",
				t.CodingIterations, strings.Join(weak, ", "))
			return nil
		})
		if err != nil {
			return false, err
		}
	}
}

// codeReviewContent summarizes what the scorer should review: the working
// branch and the files the coding session touched.
func codeReviewContent(t *task.Task) string {
	var files []string
	for _, a := range t.Artifacts {
		if a.Type == task.ArtifactTypeSourceFile {
			files = append(files, a.Name)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Repository %s, branch %s (base %s)\n", t.Repo, t.WorkingBranch, t.BaseBranch)
	writeList(&b, "Changed files", files)
	return b.String()
}

// stageTesting runs the test suite in the sandbox and asks the agent to
// fix failures within the fix budget. A suite that still fails after the
// budget does not fail the task: the gate check is the enforcement point,
// so the stage records the failure and proceeds.
func (p *Pipeline) stageTesting(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusTesting, task.StageTesting)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageTesting, "running tests", pctTesting)

	command := testCommand(t.Language)
	for attempt := 0; ; attempt++ {
		result, err := p.collabs.Agent.RunTests(ctx, collab.RunTestsRequest{
			Repo:     t.Repo,
			Branch:   t.WorkingBranch,
			Language: t.Language,
			Command:  command,
		})
		if err != nil {
			// A transport failure counts as a failed run.
			result = &collab.TestRunResult{ExitCode: -1, Output: err.Error()}
		}

		passed := result.ExitCode == 0 && result.CoveragePct >= p.cfg.MinCoveragePct
		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.AddArtifact(task.NewArtifact(
				fmt.Sprintf("test-results-%d", attempt+1),
				task.ArtifactTypeTestResults, "", int64(len(result.Output))))
			if passed {
				t.AppendLog("tests passed with %.1f%% coverage", result.CoveragePct)
			} else {
				t.AppendLog("tests failed (exit %d, coverage %.1f%%)",
					result.ExitCode, result.CoveragePct)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		if passed {
			return true, nil
		}

		if t.TestFixIterations >= p.cfg.MaxTestFixIterations {
			p.logger.Warn(ctx, "test fix budget exhausted, deferring to gate check",
				zap.Int("exit_code", result.ExitCode),
				zap.Float64("coverage_pct", result.CoveragePct))
			_, uerr := p.update(ctx, id, func(t *task.Task) error {
				t.AppendLog("tests still failing after %d fix attempts, issues may remain",
					t.TestFixIterations)
				return nil
			})
			return uerr == nil, uerr
		}

		if err := p.collabs.Agent.FixTests(ctx, collab.FixTestsRequest{
			Repo:        t.Repo,
			Branch:      t.WorkingBranch,
			Output:      result.Output,
			CoveragePct: result.CoveragePct,
			MinCoverage: p.cfg.MinCoveragePct,
		}); err != nil {
			p.logger.Warn(ctx, "fix-tests call failed, proceeding", zap.Error(err))
			_, uerr := p.update(ctx, id, func(t *task.Task) error {
				t.AppendLog("test fix call failed, issues may remain")
				return nil
			})
			return uerr == nil, uerr
		}

		t, err = p.update(ctx, id, func(t *task.Task) error {
			t.TestFixIterations++
			t.AppendLog("test fix attempt %d", t.TestFixIterations)
			return nil
		})
		if err != nil {
			return false, err
		}
	}
}

// stageGateCheck runs the quality gate. The gate is advisory: any outcome
// proceeds to PR creation, with failures recorded on the task and surfaced
// in the PR body. One fix-and-recheck round is attempted for failed checks.
func (p *Pipeline) stageGateCheck(ctx context.Context, id string) (bool, error) {
	t, err := p.enterStage(ctx, id, task.StatusGateCheck, task.StageGateCheck)
	if err != nil {
		return false, err
	}
	p.publish(ctx, t, task.StageGateCheck, "running gate checks", pctGateCheck)

	result, err := p.collabs.Gate.Check(ctx, collab.CheckRequest{
		Repo:     t.Repo,
		Branch:   t.WorkingBranch,
		Language: t.Language,
		Checks:   collab.DefaultChecks,
	})
	if err != nil {
		p.logger.Warn(ctx, "gate engine unavailable", zap.Error(err))
		result = &task.GateResult{
			Details: map[string]any{"error": err.Error()},
		}
	} else if !result.AllPassed {
		failed := result.FailedChecks()
		p.logger.Info(ctx, "gate checks failed, attempting fix",
			zap.Strings("checks", failed))
		fixErr := p.collabs.Agent.FixGates(ctx, collab.FixGatesRequest{
			Repo:         t.Repo,
			Branch:       t.WorkingBranch,
			FailedChecks: failed,
		})
		if fixErr == nil {
			recheck, recheckErr := p.collabs.Gate.Check(ctx, collab.CheckRequest{
				Repo:     t.Repo,
				Branch:   t.WorkingBranch,
				Language: t.Language,
				Checks:   collab.DefaultChecks,
			})
			if recheckErr == nil {
				result = recheck
			} else {
				p.logger.Warn(ctx, "gate recheck failed", zap.Error(recheckErr))
			}
		} else {
			p.logger.Warn(ctx, "gate fix failed", zap.Error(fixErr))
		}
	}

	_, err = p.update(ctx, id, func(t *task.Task) error {
		t.GateResult = result
		if result.AllPassed {
			t.AppendLog("gate checks passed")
		} else if failed := result.FailedChecks(); len(failed) > 0 {
			t.AppendLog("gate checks failed: %s", strings.Join(failed, ", "))
		}
		return nil
	})
	return err == nil, err
}

// stagePR creates the pull request. Label setup and reviewer assignment
// are best-effort; PR creation itself is not.
func (p *Pipeline) stagePR(ctx context.Context, id string) (bool, error) {
	t, err := p.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.Status.IsTerminal() {
		return false, fmt.Errorf("%w: pr stage from %s", task.ErrInvalidTransition, t.Status)
	}
	p.publish(ctx, t, task.StagePR, "creating pull request", pctPRCreated)

	for _, label := range p.vcsCfg.Labels {
		if err := p.collabs.VCS.EnsureLabel(ctx, t.Repo, label); err != nil {
			p.logger.Warn(ctx, "ensuring label",
				zap.String("label", label), zap.Error(err))
		}
	}
	if len(p.vcsCfg.Labels) > 0 {
		if labels, err := p.collabs.VCS.ListLabels(ctx, t.Repo); err != nil {
			p.logger.Warn(ctx, "resolving label ids", zap.Error(err))
		} else {
			ids := make(map[string]int64, len(labels))
			for _, l := range labels {
				ids[l.Name] = l.ID
			}
			p.logger.Debug(ctx, "labels resolved", zap.Any("label_ids", ids))
		}
	}

	pr, err := p.collabs.VCS.CreatePR(ctx, collab.PRRequest{
		Repo:      t.Repo,
		Title:     prTitle(t),
		Body:      buildPRBody(t),
		Head:      t.WorkingBranch,
		Base:      t.BaseBranch,
		Labels:    p.vcsCfg.Labels,
		Reviewers: p.vcsCfg.Reviewers,
	})
	if err != nil {
		return false, fmt.Errorf("creating pull request: %w", err)
	}

	if len(p.vcsCfg.Reviewers) > 0 {
		if err := p.collabs.VCS.RequestReviewers(ctx, t.Repo, pr.Number, p.vcsCfg.Reviewers); err != nil {
			p.logger.Warn(ctx, "requesting reviewers", zap.Error(err))
		}
	}

	t, err = p.update(ctx, id, func(t *task.Task) error {
		if err := t.Transition(task.StatusPRCreated); err != nil {
			return err
		}
		t.PRURL = pr.URL
		t.PRNumber = pr.Number
		t.ResumeStage = task.StagePR
		t.AppendLog("pull request #%d created: %s", pr.Number, pr.URL)
		return nil
	})
	if err != nil {
		return false, err
	}

	p.trace(ctx, collab.TraceRecord{
		ID:     t.ID,
		Name:   "pr.created",
		Output: map[string]any{"number": pr.Number, "url": pr.URL},
	})
	return true, nil
}

func (p *Pipeline) stageComplete(ctx context.Context, id string) (bool, error) {
	t, err := p.update(ctx, id, func(t *task.Task) error {
		if err := t.Transition(task.StatusComplete); err != nil {
			return err
		}
		t.ResumeStage = task.StageComplete
		t.AppendLog("task complete")
		return nil
	})
	if err != nil {
		return false, err
	}

	recordTaskFinished(ctx, string(t.Type), string(t.Status), t.DurationSeconds)
	p.publish(ctx, t, task.StageComplete, "task complete", pctComplete)
	p.trace(ctx, collab.TraceRecord{
		ID:   t.ID,
		Name: "task.completed",
		Output: map[string]any{
			"duration_s": t.DurationSeconds, "pr_url": t.PRURL,
		},
	})
	p.notify(ctx, p.channel, fmt.Sprintf(
		"Task %s complete: %s", t.ID, t.PRURL))
	p.logger.Info(ctx, "task complete",
		zap.Float64("duration_s", t.DurationSeconds),
		zap.String("pr_url", t.PRURL))
	return true, nil
}
