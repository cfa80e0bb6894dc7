package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

const taskColumns = `session_id, task_id, short_name, description, related_requirement_ids, status, attempts, last_error, result_summary, sort_order, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*protocol.Task, error) {
	var t protocol.Task
	var related, status string
	var lastError, summary sql.NullString
	var updatedAt int64
	if err := row.Scan(&t.SessionID, &t.TaskID, &t.ShortName, &t.Description, &related, &status, &t.Attempts, &lastError, &summary, &t.Order, &updatedAt); err != nil {
		return nil, err
	}
	t.RelatedRequirementIDs = decodeList(related)
	t.Status = protocol.TaskStatus(status)
	t.LastError = stringPtr(lastError)
	t.ResultSummary = stringPtr(summary)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func insertTask(ctx context.Context, ex execer, sessionID string, t *protocol.Task, ms int64) error {
	if t.Status == "" {
		t.Status = protocol.TaskStatusPending
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, t.TaskID, t.ShortName, t.Description, encodeList(t.RelatedRequirementIDs), string(t.Status),
		t.Attempts, nullString(t.LastError), nullString(t.ResultSummary), t.Order, ms)
	return mapErr(err)
}

// ListTasks returns the session's tasks in order
func (db *DB) ListTasks(ctx context.Context, sessionID string) ([]protocol.Task, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? ORDER BY sort_order, task_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []protocol.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetTask returns one task or nil
func (db *DB) GetTask(ctx context.Context, sessionID, taskID string) (*protocol.Task, error) {
	t, err := scanTask(db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE session_id = ? AND task_id = ?`, sessionID, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// CreateTask inserts one task. An empty status becomes PENDING.
func (db *DB) CreateTask(ctx context.Context, sessionID string, t *protocol.Task) error {
	now := db.now()
	if err := insertTask(ctx, db, sessionID, t, toMillis(now)); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.SessionID = sessionID
	t.UpdatedAt = now
	return nil
}

// UpdateTask applies a partial update
func (db *DB) UpdateTask(ctx context.Context, sessionID, taskID string, patch protocol.TaskPatch) error {
	var b updateBuilder
	if patch.ShortName != nil {
		b.set("short_name", *patch.ShortName)
	}
	if patch.Description != nil {
		b.set("description", *patch.Description)
	}
	if patch.RelatedRequirementIDs != nil {
		b.set("related_requirement_ids", encodeList(*patch.RelatedRequirementIDs))
	}
	if patch.Status != nil {
		b.set("status", string(*patch.Status))
	}
	if patch.Attempts != nil {
		b.set("attempts", *patch.Attempts)
	}
	if patch.ClearLastError {
		b.set("last_error", nil)
	} else if patch.LastError != nil {
		b.set("last_error", *patch.LastError)
	}
	if patch.ResultSummary != nil {
		b.set("result_summary", *patch.ResultSummary)
	}
	if patch.Order != nil {
		b.set("sort_order", *patch.Order)
	}
	b.set("updated_at", toMillis(db.now()))

	args := append(b.args, sessionID, taskID)
	return db.execOne(ctx, "update task", `UPDATE tasks SET `+b.clause()+` WHERE session_id = ? AND task_id = ?`, args...)
}

// DeleteTask removes one task
func (db *DB) DeleteTask(ctx context.Context, sessionID, taskID string) error {
	return db.execOne(ctx, "delete task", `DELETE FROM tasks WHERE session_id = ? AND task_id = ?`, sessionID, taskID)
}

// ReplaceTasks deletes all of the session's tasks and inserts items in one
// transaction.
func (db *DB) ReplaceTasks(ctx context.Context, sessionID string, items []protocol.Task) error {
	ms := toMillis(db.now())
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		for i := range items {
			if err := insertTask(ctx, tx, sessionID, &items[i], ms); err != nil {
				return fmt.Errorf("insert task %s: %w", items[i].TaskID, err)
			}
		}
		return nil
	})
}
