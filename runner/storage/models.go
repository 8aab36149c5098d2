package storage

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run ID does not exist
var ErrRunNotFound = errors.New("run not found")

// Run represents a pipeline execution
type Run struct {
	ID          int        `json:"id"`
	RunUID      string     `json:"run_uid"`
	Workspace   string     `json:"workspace"`
	Status      string     `json:"status"` // "running", "success", "failed"
	FailedStage int        `json:"failed_stage,omitempty"`
	Message     string     `json:"message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Duration    *string    `json:"duration,omitempty"`
}

// StageExecution represents execution of a single stage
type StageExecution struct {
	ID         int        `json:"id"`
	RunID      int        `json:"run_id"`
	Position   int        `json:"position"`
	Name       string     `json:"name"`
	Status     string     `json:"status"` // "running", "success", "failed", "skipped"
	Command    string     `json:"command"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Duration   *string    `json:"duration,omitempty"`
}
