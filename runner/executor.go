package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fatgo/runner/storage"
)

// Options configures an Orchestrator
type Options struct {
	Runner    ProcessRunner
	Stages    []Stage
	Progress  ProgressSink     // Optional: receives run and stage events
	Presenter Presenter        // Optional: displays the rendered graph
	Opener    DocumentOpener   // Optional: opens the report
	Storage   *storage.Storage // Optional storage for database persistence

	// VerifyArtifacts stats each stage's inputs before it runs and its
	// outputs after it exits, turning a silently missing file into a
	// MissingArtifactError attributed to that stage.
	VerifyArtifacts bool

	LookPath func(file string) (string, error) // defaults to exec.LookPath
	Logger   *zap.Logger
}

// Orchestrator runs the fixed firmware pipeline against a workspace. It holds
// no per-run state; concurrent Execute calls are independent and unserialized.
type Orchestrator struct {
	opts Options
	log  *zap.Logger
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	if opts.Runner == nil {
		opts.Runner = NewShellRunner(false, opts.Logger)
	}
	if opts.Progress == nil {
		opts.Progress = MultiSink{}
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{opts: opts, log: log}
}

// Stages returns the configured pipeline
func (o *Orchestrator) Stages() []Stage {
	return append([]Stage(nil), o.opts.Stages...)
}

// Execute runs every stage in order and stops at the first failure. The
// returned error is nil exactly when the outcome is a success.
func (o *Orchestrator) Execute(ctx context.Context, ws WorkspaceContext) (*Outcome, error) {
	startTime := time.Now()
	outcome := &Outcome{
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		Workspace: ws.Root,
		Stages:    make([]StageResult, 0, len(o.opts.Stages)),
	}
	log := o.log.With(zap.String("run_id", outcome.RunID), zap.String("workspace", ws.Root))

	if err := validateWorkspace(ws); err != nil {
		log.Warn("pipeline not started", zap.Error(err))
		return o.finish(outcome, nil, 0, nil, err, startTime)
	}

	// Paths and commands are resolved before anything is spawned
	outcome.Paths = DerivePaths(ws)
	commands := make([]string, len(o.opts.Stages))
	for i, stage := range o.opts.Stages {
		command, err := stage.Render(ws, outcome.Paths)
		if err != nil {
			return o.finish(outcome, nil, i+1, &stage, err, startTime)
		}
		commands[i] = command
	}

	var run *storage.Run
	if o.opts.Storage != nil {
		var err error
		run, err = o.opts.Storage.CreateRun(outcome.RunID, ws.Root)
		if err != nil {
			log.Error("failed to record run", zap.Error(err))
			run = nil
		}
	}

	log.Info("pipeline started", zap.Int("stages", len(o.opts.Stages)))
	o.publish(outcome, Event{Type: EventRunStarted, Message: "Analyzing Firmware..."})

	imageProduced := false
	for i, stage := range o.opts.Stages {
		result, err := o.executeStage(ctx, outcome, run, i+1, stage, commands[i], ws, log)
		outcome.Stages = append(outcome.Stages, result)
		if err != nil {
			return o.finish(outcome, run, i+1, &o.opts.Stages[i], err, startTime)
		}
		if result.Status == StatusSuccess && produces(stage, ArtifactImage) {
			imageProduced = true
		}
	}

	o.finish(outcome, run, 0, nil, nil, startTime)
	o.present(ctx, outcome, imageProduced, log)
	return outcome, nil
}

// executeStage runs a single stage and returns its result
func (o *Orchestrator) executeStage(ctx context.Context, outcome *Outcome, run *storage.Run, position int, stage Stage, command string, ws WorkspaceContext, log *zap.Logger) (StageResult, error) {
	stageStart := time.Now()
	result := StageResult{Position: position, Name: stage.Name, Command: command}
	log = log.With(zap.Int("position", position), zap.String("stage", stage.Name))

	if stage.Optional {
		if reason := o.skipReason(stage, outcome.Paths); reason != "" {
			result.Status = StatusSkipped
			log.Info("stage skipped", zap.String("reason", reason))
			o.record(run, result, reason, log)
			o.publish(outcome, Event{
				Type:     EventStageSkipped,
				Position: position,
				Stage:    stage.Name,
				Label:    stage.Label,
				Status:   StatusSkipped,
				Message:  fmt.Sprintf("%s skipped: %s", stage.Label, reason),
			})
			return result, nil
		}
	}

	if o.opts.VerifyArtifacts {
		if err := checkArtifacts(outcome.Paths, stage.Requires); err != nil {
			result.Status = StatusFailed
			result.Error = err
			result.Duration = time.Since(stageStart)
			o.record(run, result, err.Error(), log)
			return result, err
		}
	}

	o.publish(outcome, Event{Type: EventStageStarted, Position: position, Stage: stage.Name, Label: stage.Label, Status: StatusRunning})

	var stageExec *storage.StageExecution
	if o.opts.Storage != nil && run != nil {
		var err error
		stageExec, err = o.opts.Storage.CreateStageExecution(run.ID, position, stage.Name, command, StatusRunning)
		if err != nil {
			log.Error("failed to record stage execution", zap.Error(err))
		}
	}

	err := o.opts.Runner.Run(ctx, command, ws.Root)
	if err == nil && o.opts.VerifyArtifacts {
		err = checkArtifacts(outcome.Paths, stage.Produces)
	}
	result.Duration = time.Since(stageStart)

	message := ""
	if err != nil {
		result.Status = StatusFailed
		result.Error = err
		message = err.Error()
		log.Error("stage failed", zap.Duration("duration", result.Duration), zap.Error(err))
	} else {
		result.Status = StatusSuccess
		log.Info("stage finished", zap.Duration("duration", result.Duration))
	}

	if stageExec != nil {
		if uerr := o.opts.Storage.UpdateStageExecution(stageExec.ID, result.Status, message, result.Duration); uerr != nil {
			log.Error("failed to update stage execution", zap.Error(uerr))
		}
	}

	o.publish(outcome, Event{
		Type:     EventStageFinished,
		Position: position,
		Stage:    stage.Name,
		Label:    stage.Label,
		Status:   result.Status,
		Message:  message,
		Err:      err,
	})
	return result, err
}

// finish settles the outcome, persists it and publishes the terminal event
func (o *Orchestrator) finish(outcome *Outcome, run *storage.Run, position int, stage *Stage, err error, startTime time.Time) (*Outcome, error) {
	outcome.Duration = time.Since(startTime)

	if err == nil {
		outcome.Status = StatusSuccess
		if run != nil {
			if uerr := o.opts.Storage.UpdateRunStatus(run.ID, StatusSuccess, 0, "", outcome.Duration); uerr != nil {
				o.log.Error("failed to update run status", zap.String("run_id", outcome.RunID), zap.Error(uerr))
			}
		}
		o.log.Info("pipeline completed", zap.String("run_id", outcome.RunID), zap.Duration("duration", outcome.Duration))
		o.publish(outcome, Event{Type: EventRunSucceeded, Status: StatusSuccess, Message: "Firmware analysis completed successfully!"})
		return outcome, nil
	}

	outcome.Status = StatusFailed
	outcome.FailedStage = position
	outcome.Message = err.Error()

	ev := Event{Type: EventRunFailed, Status: StatusFailed, Position: position, Message: outcome.Message, Err: err}
	if stage != nil {
		err = &StageError{Position: position, Stage: stage.Name, Err: err}
		ev.Stage = stage.Name
		ev.Label = stage.Label
	}
	outcome.Error = err

	if run != nil {
		if uerr := o.opts.Storage.UpdateRunStatus(run.ID, StatusFailed, position, outcome.Message, outcome.Duration); uerr != nil {
			o.log.Error("failed to update run status", zap.String("run_id", outcome.RunID), zap.Error(uerr))
		}
	}
	o.publish(outcome, ev)
	return outcome, err
}

// present opens the report and hands the graph image to the presenter
func (o *Orchestrator) present(ctx context.Context, outcome *Outcome, imageProduced bool, log *zap.Logger) {
	var errs []error

	if o.opts.Opener != nil {
		if err := o.opts.Opener.Open(ctx, outcome.Paths.Report); err != nil {
			errs = append(errs, fmt.Errorf("failed to open report: %w", err))
		}
	}
	if o.opts.Presenter != nil && imageProduced {
		outcome.presented = true
		if err := o.opts.Presenter.Present(ctx, outcome.Paths.Image); err != nil {
			errs = append(errs, fmt.Errorf("failed to display control flow graph: %w", err))
		}
	}

	for _, err := range errs {
		log.Error("presentation failed", zap.Error(err))
		o.publish(outcome, Event{Type: EventPresentFailed, Status: StatusFailed, Message: err.Error(), Err: err})
	}
	outcome.PresentError = errors.Join(errs...)
}

// record stores a stage that never spawned a process
func (o *Orchestrator) record(run *storage.Run, result StageResult, message string, log *zap.Logger) {
	if o.opts.Storage == nil || run == nil {
		return
	}
	stageExec, err := o.opts.Storage.CreateStageExecution(run.ID, result.Position, result.Name, result.Command, result.Status)
	if err == nil {
		err = o.opts.Storage.UpdateStageExecution(stageExec.ID, result.Status, message, result.Duration)
	}
	if err != nil {
		log.Error("failed to record stage execution", zap.Error(err))
	}
}

func (o *Orchestrator) publish(outcome *Outcome, ev Event) {
	ev.RunID = outcome.RunID
	ev.Workspace = outcome.Workspace
	ev.Time = time.Now()
	o.opts.Progress.Publish(ev)
}

// skipReason explains why an optional stage cannot run, or returns ""
func (o *Orchestrator) skipReason(stage Stage, paths ArtifactPaths) string {
	if stage.Tool != "" {
		if _, err := o.opts.LookPath(stage.Tool); err != nil {
			return fmt.Sprintf("%s is not installed", stage.Tool)
		}
	}
	if o.opts.VerifyArtifacts {
		if err := checkArtifacts(paths, stage.Requires); err != nil {
			return err.Error()
		}
	}
	return ""
}

func validateWorkspace(ws WorkspaceContext) error {
	if ws.Root == "" {
		return ErrNoWorkspace
	}
	info, err := os.Stat(ws.Root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoWorkspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNoWorkspace, ws.Root)
	}
	return nil
}

func checkArtifacts(paths ArtifactPaths, artifacts []Artifact) error {
	for _, a := range artifacts {
		p, err := paths.Path(a)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return &MissingArtifactError{Artifact: a, Path: p}
		}
	}
	return nil
}

func produces(stage Stage, a Artifact) bool {
	for _, p := range stage.Produces {
		if p == a {
			return true
		}
	}
	return false
}
