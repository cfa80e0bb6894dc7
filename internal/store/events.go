package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// Event page bounds
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 500
)

// AppendEvent stores a RunEvent and assigns its arrival sequence
func (db *DB) AppendEvent(ctx context.Context, evt *protocol.RunEvent) error {
	if evt.ID == "" {
		evt.ID = ident.New()
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)
	`, evt.ID, evt.RunID, toMillis(evt.TS), evt.Type, string(data))
	if err != nil {
		return fmt.Errorf("insert run event: %w", mapErr(err))
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	evt.Seq = seq
	return nil
}

// ListEvents returns a page of the run's events in arrival order. limit is
// clamped to [1, MaxEventLimit]; offset below zero is treated as zero.
func (db *DB) ListEvents(ctx context.Context, runID string, limit, offset int) ([]protocol.RunEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(ctx, `
		SELECT seq, id, run_id, ts, type, payload FROM run_events
		WHERE run_id = ? ORDER BY seq LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	out := []protocol.RunEvent{}
	for rows.Next() {
		var evt protocol.RunEvent
		var ts int64
		var payload string
		if err := rows.Scan(&evt.Seq, &evt.ID, &evt.RunID, &ts, &evt.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		evt.TS = fromMillis(ts)
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			evt.Payload = map[string]any{"line": payload}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events stored for a run
func (db *DB) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_events WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count run events: %w", err)
	}
	return n, nil
}
