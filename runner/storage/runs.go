package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, run_uid, workspace, status, failed_stage, message, started_at, finished_at, duration"

// CreateRun creates a new run record
func (s *Storage) CreateRun(runUID, workspace string) (*Run, error) {
	now := time.Now()
	result, err := s.db.Exec(
		"INSERT INTO runs (run_uid, workspace, status, started_at) VALUES (?, ?, ?, ?)",
		runUID, workspace, "running", now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get run ID: %w", err)
	}

	return &Run{
		ID:        int(id),
		RunUID:    runUID,
		Workspace: workspace,
		Status:    "running",
		StartedAt: now,
	}, nil
}

// UpdateRunStatus updates the status, failure details and finish time of a run
func (s *Storage) UpdateRunStatus(runID int, status string, failedStage int, message string, duration time.Duration) error {
	now := time.Now()
	durationStr := duration.String()
	_, err := s.db.Exec(
		"UPDATE runs SET status = ?, failed_stage = ?, message = ?, finished_at = ?, duration = ? WHERE id = ?",
		status, failedStage, message, now, durationStr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// GetRuns retrieves runs, ordered by most recent first
func (s *Storage) GetRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// GetRun retrieves a single run by ID
func (s *Storage) GetRun(runID int) (*Run, error) {
	r, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var finishedAt sql.NullTime
	var duration sql.NullString

	err := row.Scan(&r.ID, &r.RunUID, &r.Workspace, &r.Status, &r.FailedStage, &r.Message, &r.StartedAt, &finishedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	if duration.Valid {
		durationStr := duration.String
		r.Duration = &durationStr
	}

	return &r, nil
}
