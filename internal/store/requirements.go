package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

const requirementColumns = `session_id, req_id, short_name, current_state, desired_state, explanation, sort_order, updated_at`

func scanRequirement(row interface{ Scan(...any) error }) (*protocol.Requirement, error) {
	var r protocol.Requirement
	var updatedAt int64
	if err := row.Scan(&r.SessionID, &r.ReqID, &r.ShortName, &r.CurrentState, &r.DesiredState, &r.Explanation, &r.Order, &updatedAt); err != nil {
		return nil, err
	}
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRequirement(ctx context.Context, ex execer, sessionID string, r *protocol.Requirement, ms int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO requirements (`+requirementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, r.ReqID, r.ShortName, r.CurrentState, r.DesiredState, r.Explanation, r.Order, ms)
	return mapErr(err)
}

// ListRequirements returns the session's requirements in order
func (db *DB) ListRequirements(ctx context.Context, sessionID string) ([]protocol.Requirement, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE session_id = ? ORDER BY sort_order, req_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	out := []protocol.Requirement{}
	for rows.Next() {
		r, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetRequirement returns one requirement or nil
func (db *DB) GetRequirement(ctx context.Context, sessionID, reqID string) (*protocol.Requirement, error) {
	r, err := scanRequirement(db.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM requirements WHERE session_id = ? AND req_id = ?`, sessionID, reqID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get requirement: %w", err)
	}
	return r, nil
}

// CreateRequirement inserts one requirement
func (db *DB) CreateRequirement(ctx context.Context, sessionID string, r *protocol.Requirement) error {
	now := db.now()
	if err := insertRequirement(ctx, db, sessionID, r, toMillis(now)); err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	r.SessionID = sessionID
	r.UpdatedAt = now
	return nil
}

// UpdateRequirement applies a partial update
func (db *DB) UpdateRequirement(ctx context.Context, sessionID, reqID string, patch protocol.RequirementPatch) error {
	var b updateBuilder
	if patch.ShortName != nil {
		b.set("short_name", *patch.ShortName)
	}
	if patch.CurrentState != nil {
		b.set("current_state", *patch.CurrentState)
	}
	if patch.DesiredState != nil {
		b.set("desired_state", *patch.DesiredState)
	}
	if patch.Explanation != nil {
		b.set("explanation", *patch.Explanation)
	}
	if patch.Order != nil {
		b.set("sort_order", *patch.Order)
	}
	b.set("updated_at", toMillis(db.now()))

	args := append(b.args, sessionID, reqID)
	return db.execOne(ctx, "update requirement", `UPDATE requirements SET `+b.clause()+` WHERE session_id = ? AND req_id = ?`, args...)
}

// DeleteRequirement removes one requirement
func (db *DB) DeleteRequirement(ctx context.Context, sessionID, reqID string) error {
	return db.execOne(ctx, "delete requirement", `DELETE FROM requirements WHERE session_id = ? AND req_id = ?`, sessionID, reqID)
}

// ReplaceRequirements deletes all of the session's requirements and inserts
// items in one transaction.
func (db *DB) ReplaceRequirements(ctx context.Context, sessionID string, items []protocol.Requirement) error {
	ms := toMillis(db.now())
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM requirements WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear requirements: %w", err)
		}
		for i := range items {
			if err := insertRequirement(ctx, tx, sessionID, &items[i], ms); err != nil {
				return fmt.Errorf("insert requirement %s: %w", items[i].ReqID, err)
			}
		}
		return nil
	})
}
