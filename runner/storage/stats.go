package storage

import (
	"database/sql"
	"fmt"
)

// StageStats aggregates stage outcomes across all recorded runs
type StageStats struct {
	Name       string  `json:"name"`
	Executions int     `json:"executions"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	LastStatus string  `json:"last_status"`
	LastError  *string `json:"last_error,omitempty"`
}

// GetStageStats returns per-stage counters, optionally restricted to one workspace
func (s *Storage) GetStageStats(workspace string) ([]StageStats, error) {
	query := `
		SELECT
			se.name,
			se.status,
			se.message
		FROM stage_executions se
		JOIN runs r ON r.id = se.run_id
		WHERE (? = '' OR r.workspace = ?)
		ORDER BY se.position, se.id
	`

	rows, err := s.db.Query(query, workspace, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage stats: %w", err)
	}
	defer rows.Close()

	// keep first-seen order, which follows pipeline position
	index := make(map[string]int)
	stats := make([]StageStats, 0)

	for rows.Next() {
		var name, status string
		var message sql.NullString
		if err := rows.Scan(&name, &status, &message); err != nil {
			return nil, fmt.Errorf("failed to scan stage stats: %w", err)
		}

		i, ok := index[name]
		if !ok {
			i = len(stats)
			index[name] = i
			stats = append(stats, StageStats{Name: name})
		}
		st := &stats[i]
		st.Executions++
		st.LastStatus = status
		switch status {
		case "success":
			st.Succeeded++
		case "failed":
			st.Failed++
			if message.Valid && message.String != "" {
				msg := message.String
				st.LastError = &msg
			}
		case "skipped":
			st.Skipped++
		}
	}

	return stats, rows.Err()
}
