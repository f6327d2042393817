package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

type Run struct {
	ID             string          `json:"id"`
	Request        string          `json:"request"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	Status         string          `json:"status"`
	Roles          json.RawMessage `json:"roles,omitempty"`
	Steps          json.RawMessage `json:"steps,omitempty"`
	MergedOutput   string          `json:"merged_output,omitempty"`
	DurationMs     float64         `json:"duration_ms"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, request, conversation_id, sender, status, roles, steps, merged_output, duration_ms, started_at, completed_at`

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var conversationID, sender, roles, steps, merged *string
	err := sc.Scan(&r.ID, &r.Request, &conversationID, &sender, &r.Status, &roles, &steps, &merged, &r.DurationMs, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if conversationID != nil {
		r.ConversationID = *conversationID
	}
	if sender != nil {
		r.Sender = *sender
	}
	if roles != nil {
		r.Roles = json.RawMessage(*roles)
	}
	if steps != nil {
		r.Steps = json.RawMessage(*steps)
	}
	if merged != nil {
		r.MergedOutput = *merged
	}
	return r, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *Store) SaveRun(r *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, request, conversation_id, sender, status, roles, steps, merged_output, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			roles = excluded.roles,
			steps = excluded.steps,
			merged_output = excluded.merged_output,
			duration_ms = excluded.duration_ms,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Request, r.ConversationID, r.Sender, r.Status, nullJSON(r.Roles), nullJSON(r.Steps), r.MergedOutput, r.DurationMs)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

// CountRuns returns the number of runs per status.
func (s *Store) CountRuns() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
