// Package orchestrator drives tasks through the pipeline: context
// compilation, specification generation and review, coding, self-review,
// testing, gate checks, and pull-request creation.
//
// Stage logic lives in stages.go; this file holds the driver and the
// human-review operations. Every task mutation goes through the store's
// Update so readers never observe a torn record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/collab"
	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/logging"
	"github.com/fyrsmithlabs/taskd/internal/progress"
	"github.com/fyrsmithlabs/taskd/internal/task"
)

// Collaborators bundles the external services the pipeline delegates to.
type Collaborators struct {
	Context  collab.ContextCompiler
	LLM      collab.CompletionService
	Scorer   collab.Scorer
	Agent    collab.CodingAgent
	Gate     collab.GateEngine
	VCS      collab.VCSHost
	Notifier collab.Notifier
	Tracer   collab.TraceSink
}

// Pipeline owns the task lifecycle.
type Pipeline struct {
	store        task.Store
	broadcaster  *progress.Broadcaster
	collabs      Collaborators
	cfg          config.PipelineConfig
	vcsCfg       config.GitHubConfig
	sandboxImage string
	channel      string
	reviewChan   string
	logger       *logging.Logger
}

// New creates a pipeline. The store, broadcaster, and the core
// collaborators must be non-nil; Notifier and Tracer may be nil.
func New(store task.Store, broadcaster *progress.Broadcaster, collabs Collaborators,
	cfg *config.Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		store:        store,
		broadcaster:  broadcaster,
		collabs:      collabs,
		cfg:          cfg.Pipeline,
		vcsCfg:       cfg.GitHub,
		sandboxImage: cfg.Collaborators.SandboxImage,
		channel:      cfg.Notifier.Channel,
		reviewChan:   cfg.Notifier.ReviewChannel,
		logger:       logger.Named("pipeline"),
	}
}

// CreateTask validates the request, stores a new RECEIVED task, and starts
// the pipeline asynchronously. The returned snapshot reflects the task
// before any stage has run.
func (p *Pipeline) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown task type %q", req.Type)
	}
	if req.Description == "" {
		return nil, errors.New("description is required")
	}
	if req.Repo == "" {
		return nil, errors.New("repo is required")
	}
	if req.BaseBranch == "" {
		req.BaseBranch = "main"
	}
	if req.Language == "" {
		return nil, errors.New("language is required")
	}

	t := task.New(req)
	t.WorkingBranch = t.WorkingBranchName()
	t.ResumeStage = task.StageReceive
	t.AppendLog("task received: %s on %s", t.Type, t.Repo)

	if err := p.store.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("storing task: %w", err)
	}
	recordTaskCreated(ctx, string(t.Type))
	p.logger.Info(ctx, "task created",
		zap.String("task_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.String("repo", t.Repo))

	go p.run(context.WithoutCancel(ctx), t.ID, task.StageReceive)

	return t.Clone(), nil
}

// Approve resumes a task suspended in PENDING_HUMAN_REVIEW. Optional
// feedback is recorded on the task and handed to the coding agent.
func (p *Pipeline) Approve(ctx context.Context, id, feedback string) (*task.Task, error) {
	t, err := p.store.Update(ctx, id, func(t *task.Task) error {
		if t.Status != task.StatusPendingHumanReview {
			return fmt.Errorf("%w: approve from %s", task.ErrInvalidTransition, t.Status)
		}
		if err := t.Transition(task.StatusCoding); err != nil {
			return err
		}
		t.HumanFeedback = feedback
		t.ResumeStage = task.StageCoding
		t.AppendLog("specification approved by human reviewer")
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info(ctx, "task approved", zap.String("task_id", id))

	go p.run(context.WithoutCancel(ctx), id, task.StageCoding)

	return t, nil
}

// Reject terminates a task waiting in PENDING_HUMAN_REVIEW or still in
// SPEC_REVIEW. The task moves to FAILED with the rejection reason.
func (p *Pipeline) Reject(ctx context.Context, id, reason string) (*task.Task, error) {
	t, err := p.store.Update(ctx, id, func(t *task.Task) error {
		if t.Status != task.StatusPendingHumanReview && t.Status != task.StatusSpecReview {
			return fmt.Errorf("%w: reject from %s", task.ErrInvalidTransition, t.Status)
		}
		if err := t.Transition(task.StatusFailed); err != nil {
			return err
		}
		t.HumanFeedback = reason
		t.Error = "specification rejected by human reviewer"
		t.AppendLog("specification rejected: %s", reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordTaskFinished(ctx, string(t.Type), string(t.Status), t.DurationSeconds)
	p.notify(ctx, p.channel, fmt.Sprintf("Task %s rejected: %s", id, reason))
	p.logger.Info(ctx, "task rejected", zap.String("task_id", id))
	return t, nil
}

// Cancel terminates a task in any non-terminal state. The running driver
// observes the status change at its next stage boundary and stops.
func (p *Pipeline) Cancel(ctx context.Context, id string) (*task.Task, error) {
	t, err := p.store.Update(ctx, id, func(t *task.Task) error {
		if err := t.Transition(task.StatusCancelled); err != nil {
			return err
		}
		t.AppendLog("task cancelled")
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordTaskFinished(ctx, string(t.Type), string(t.Status), t.DurationSeconds)
	p.publish(ctx, t, task.Stage("cancelled"), "task cancelled", 100)
	p.notify(ctx, p.channel, fmt.Sprintf("Task %s cancelled", id))
	p.logger.Info(ctx, "task cancelled", zap.String("task_id", id))
	return t, nil
}

// stageFunc runs one stage. A nil error with proceed=false suspends the
// driver (human review gate); an error fails the task.
type stageFunc func(ctx context.Context, id string) (proceed bool, err error)

// run drives the pipeline from a stage onward. It exits when a stage
// suspends, fails, or the task leaves the expected state (cancellation).
func (p *Pipeline) run(ctx context.Context, id string, from task.Stage) {
	ctx = logging.WithTaskID(ctx, id)

	type step struct {
		stage task.Stage
		fn    stageFunc
	}
	steps := []step{
		{task.StageReceive, p.stageReceive},
		{task.StageContext, p.stageContext},
		{task.StageSpecGen, p.stageSpecGen},
		{task.StageSpecReview, p.stageSpecReview},
		{task.StageCoding, p.stageCoding},
		{task.StageSelfReview, p.stageSelfReview},
		{task.StageTesting, p.stageTesting},
		{task.StageGateCheck, p.stageGateCheck},
		{task.StagePR, p.stagePR},
		{task.StageComplete, p.stageComplete},
	}

	start := 0
	for i, s := range steps {
		if s.stage == from {
			start = i
			break
		}
	}

	for _, s := range steps[start:] {
		snapshot, err := p.store.Get(ctx, id)
		if err != nil {
			p.logger.Error(ctx, "task vanished mid-pipeline", zap.Error(err))
			return
		}
		if snapshot.Status.IsTerminal() {
			p.logger.Info(ctx, "pipeline stopped",
				zap.String("status", string(snapshot.Status)),
				zap.String("stage", string(s.stage)))
			return
		}

		proceed, err := s.fn(ctx, id)
		if err != nil {
			if errors.Is(err, task.ErrInvalidTransition) {
				// The task was cancelled (or otherwise moved) under us.
				p.logger.Info(ctx, "pipeline yielded", zap.String("stage", string(s.stage)))
				return
			}
			recordStageError(ctx, string(s.stage))
			p.fail(ctx, id, s.stage, err)
			return
		}
		recordStageCompleted(ctx, string(s.stage))
		if !proceed {
			p.logger.Info(ctx, "pipeline suspended", zap.String("stage", string(s.stage)))
			return
		}
	}
}

// fail moves the task to FAILED, recording the stage and error.
func (p *Pipeline) fail(ctx context.Context, id string, stage task.Stage, cause error) {
	p.logger.Error(ctx, "stage failed",
		zap.String("stage", string(stage)), zap.Error(cause))

	t, err := p.store.Update(ctx, id, func(t *task.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: already %s", task.ErrInvalidTransition, t.Status)
		}
		if err := t.Transition(task.StatusFailed); err != nil {
			return err
		}
		t.Error = fmt.Sprintf("%s: %v", stage, cause)
		t.AppendLog("stage %s failed: %v", stage, cause)
		return nil
	})
	if err != nil {
		p.logger.Error(ctx, "recording failure", zap.Error(err))
		return
	}

	recordTaskFinished(ctx, string(t.Type), string(t.Status), t.DurationSeconds)
	p.publish(ctx, t, stage, fmt.Sprintf("failed: %v", cause), 100)
	p.notify(ctx, p.channel,
		fmt.Sprintf("Task %s failed in %s: %v", id, stage, cause))
}

// publish emits a progress event for the task.
func (p *Pipeline) publish(ctx context.Context, t *task.Task, stage task.Stage, msg string, pct int) {
	p.broadcaster.Publish(ctx, progress.Event{
		TaskID:      t.ID,
		Stage:       string(stage),
		Message:     msg,
		ProgressPct: pct,
	})
}

// notify posts a chat message if a notifier is configured.
func (p *Pipeline) notify(ctx context.Context, channel, text string) {
	if p.collabs.Notifier == nil {
		return
	}
	p.collabs.Notifier.Post(ctx, channel, text)
}

// trace records an audit trace if a sink is configured.
func (p *Pipeline) trace(ctx context.Context, rec collab.TraceRecord) {
	if p.collabs.Tracer == nil {
		return
	}
	p.collabs.Tracer.RecordTrace(ctx, rec)
}

// update applies fn under the store lock; the helper keeps stage code terse.
func (p *Pipeline) update(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error) {
	return p.store.Update(ctx, id, fn)
}
