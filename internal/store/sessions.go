package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/ident"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

const sessionColumns = `id, name, project_path, codex_thread_id, current_stage, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*protocol.Session, error) {
	var s protocol.Session
	var name, threadID, stage sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&s.ID, &name, &s.ProjectPath, &threadID, &stage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Name = stringPtr(name)
	s.ThreadID = stringPtr(threadID)
	if stage.Valid {
		st := protocol.Stage(stage.String)
		s.CurrentStage = &st
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

// CreateSession inserts a new session, assigning an id when empty
func (db *DB) CreateSession(ctx context.Context, s *protocol.Session) error {
	if s.ID == "" {
		s.ID = ident.New()
	}
	now := db.now()
	s.CreatedAt, s.UpdatedAt = now, now

	var stage sql.NullString
	if s.CurrentStage != nil {
		stage = sql.NullString{String: string(*s.CurrentStage), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, nullString(s.Name), s.ProjectPath, nullString(s.ThreadID), stage, toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("insert session: %w", mapErr(err))
	}
	return nil
}

// GetSession returns the session or nil when it does not exist
func (db *DB) GetSession(ctx context.Context, id string) (*protocol.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListSessions returns all sessions, newest first
func (db *DB) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []protocol.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSession applies a partial update
func (db *DB) UpdateSession(ctx context.Context, id string, patch protocol.SessionPatch) error {
	var b updateBuilder
	if patch.Name != nil {
		b.set("name", *patch.Name)
	}
	if patch.ProjectPath != nil {
		b.set("project_path", *patch.ProjectPath)
	}
	if patch.ThreadID != nil {
		b.set("codex_thread_id", *patch.ThreadID)
	}
	if patch.CurrentStage != nil {
		b.set("current_stage", string(*patch.CurrentStage))
	}
	b.set("updated_at", toMillis(db.now()))

	args := append(b.args, id)
	return db.execOne(ctx, "update session", `UPDATE sessions SET `+b.clause()+` WHERE id = ?`, args...)
}

// UpsertIntent stores the session's intent, replacing any previous text
func (db *DB) UpsertIntent(ctx context.Context, sessionID, text string) (*protocol.Intent, error) {
	now := db.now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO intents (session_id, text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET text = excluded.text, updated_at = excluded.updated_at
	`, sessionID, text, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("upsert intent: %w", mapErr(err))
	}
	return &protocol.Intent{SessionID: sessionID, Text: text, UpdatedAt: now}, nil
}

// GetIntent returns the session's intent or nil
func (db *DB) GetIntent(ctx context.Context, sessionID string) (*protocol.Intent, error) {
	var in protocol.Intent
	var updatedAt int64
	err := db.QueryRowContext(ctx, `SELECT session_id, text, updated_at FROM intents WHERE session_id = ?`, sessionID).
		Scan(&in.SessionID, &in.Text, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	in.UpdatedAt = fromMillis(updatedAt)
	return &in, nil
}
