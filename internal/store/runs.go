package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

const runColumns = `id, session_id, stage, status, started_at, ended_at, error, task_id, created_at`

func scanRun(row interface{ Scan(...any) error }) (*protocol.Run, error) {
	var r protocol.Run
	var stage, status string
	var startedAt, endedAt sql.NullInt64
	var runErr, taskID sql.NullString
	var createdAt int64
	if err := row.Scan(&r.ID, &r.SessionID, &stage, &status, &startedAt, &endedAt, &runErr, &taskID, &createdAt); err != nil {
		return nil, err
	}
	r.Stage = protocol.Stage(stage)
	r.Status = protocol.RunStatus(status)
	r.StartedAt = timePtr(startedAt)
	r.EndedAt = timePtr(endedAt)
	r.Error = stringPtr(runErr)
	r.TaskID = stringPtr(taskID)
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

// CreateRun inserts a Run. Empty id and status default to a new uuid and
// QUEUED.
func (db *DB) CreateRun(ctx context.Context, r *protocol.Run) error {
	if r.ID == "" {
		r.ID = ident.New()
	}
	if r.Status == "" {
		r.Status = protocol.RunStatusQueued
	}
	r.CreatedAt = db.now()

	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SessionID, string(r.Stage), string(r.Status), nullMillis(r.StartedAt), nullMillis(r.EndedAt),
		nullString(r.Error), nullString(r.TaskID), toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", mapErr(err))
	}
	return nil
}

// GetRun returns the Run or nil
func (db *DB) GetRun(ctx context.Context, id string) (*protocol.Run, error) {
	r, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the session's runs, newest first
func (db *DB) ListRuns(ctx context.Context, sessionID string) ([]protocol.Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []protocol.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRun applies a partial update. Runs in a terminal status are never
// modified; such an update reports ErrNotFound.
func (db *DB) UpdateRun(ctx context.Context, id string, patch protocol.RunPatch) error {
	var b updateBuilder
	if patch.Status != nil {
		b.set("status", string(*patch.Status))
	}
	if patch.StartedAt != nil {
		b.set("started_at", toMillis(*patch.StartedAt))
	}
	if patch.EndedAt != nil {
		b.set("ended_at", toMillis(*patch.EndedAt))
	}
	if patch.Error != nil {
		b.set("error", *patch.Error)
	}
	if b.empty() {
		return nil
	}

	args := append(b.args, id, string(protocol.RunStatusSucceeded), string(protocol.RunStatusFailed))
	return db.execOne(ctx, "update run", `UPDATE runs SET `+b.clause()+` WHERE id = ? AND status NOT IN (?, ?)`, args...)
}

// FailInterrupted marks every QUEUED or RUNNING run as FAILED with message.
// It is called once at startup, when no invocation can be in flight.
func (db *DB) FailInterrupted(ctx context.Context, message string) (int64, error) {
	now := toMillis(db.now())
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_at = ?, error = ?
		WHERE status IN (?, ?)
	`, string(protocol.RunStatusFailed), now, message, string(protocol.RunStatusQueued), string(protocol.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}
