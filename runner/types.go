package runner

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoWorkspace is returned when a run is triggered without a usable workspace root
var ErrNoWorkspace = errors.New("no workspace folder open")

// Run and stage statuses, shared with the run history store
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// WorkspaceContext is the single root directory every artifact path is resolved against
type WorkspaceContext struct {
	Root string `json:"root"`
}

// StageResult represents the result of executing a single stage
type StageResult struct {
	Position int           `json:"position"` // 1-based
	Name     string        `json:"name"`
	Status   string        `json:"status"` // "success", "failed" or "skipped"
	Command  string        `json:"command"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"error,omitempty"`
}

// Outcome represents the result of one pipeline run
type Outcome struct {
	RunID       string        `json:"run_id"`
	Status      string        `json:"status"` // "success" or "failed"
	Workspace   string        `json:"workspace"`
	Paths       ArtifactPaths `json:"paths"`
	Stages      []StageResult `json:"stages"`
	FailedStage int           `json:"failed_stage,omitempty"` // 1-based, 0 when no stage ran
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       error         `json:"error,omitempty"`

	// PresentError is set when the pipeline succeeded but the report or the
	// graph could not be displayed.
	PresentError error `json:"present_error,omitempty"`

	presented bool
}

// Succeeded reports whether every stage completed
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSuccess
}

// Presented reports whether the presenter was handed the image
func (o *Outcome) Presented() bool {
	return o != nil && o.presented
}

// ProcessFailure is returned by a ProcessRunner when a command exits nonzero or cannot be spawned
type ProcessFailure struct {
	Command  string
	ExitCode int // -1 when the process never started
	Message  string
}

func (e *ProcessFailure) Error() string {
	return e.Message
}

// MissingArtifactError reports a stage input or output that is not on disk
type MissingArtifactError struct {
	Artifact Artifact
	Path     string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing %s artifact: %s", e.Artifact, e.Path)
}

// StageError attributes a failure to a stage position
type StageError struct {
	Position int
	Stage    string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Position, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
