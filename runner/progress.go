package runner

import (
	"context"
	"time"
)

// EventType identifies a pipeline progress event
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventStageSkipped  EventType = "stage_skipped"
	EventRunSucceeded  EventType = "run_succeeded"
	EventRunFailed     EventType = "run_failed"
	EventPresentFailed EventType = "present_failed"
)

// Event is published to the progress sink at run and stage boundaries
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Workspace string    `json:"workspace"`
	Position  int       `json:"position,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Err       error     `json:"-"`
	Time      time.Time `json:"time"`
}

// ProgressSink receives pipeline progress events. Implementations must be
// safe for concurrent use: runs are not serialized.
type ProgressSink interface {
	Publish(ev Event)
}

// ProgressFunc adapts a function to a ProgressSink
type ProgressFunc func(ev Event)

func (f ProgressFunc) Publish(ev Event) { f(ev) }

// MultiSink fans an event out to several sinks in order
type MultiSink []ProgressSink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// Presenter displays the rendered control flow graph
type Presenter interface {
	Present(ctx context.Context, imagePath string) error
}

// DocumentOpener opens the generated report for the user
type DocumentOpener interface {
	Open(ctx context.Context, path string) error
}
