package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bishoku/autopilot-codex/internal/mapper"
	"github.com/bishoku/autopilot-codex/internal/protocol"
)

const criterionColumns = `session_id, ac_id, requirement_req_id, given_text, when_text, then_text, rendered, sort_order, updated_at`

func scanCriterion(row interface{ Scan(...any) error }) (*protocol.AcceptanceCriterion, error) {
	var c protocol.AcceptanceCriterion
	var updatedAt int64
	if err := row.Scan(&c.SessionID, &c.AcID, &c.RequirementReqID, &c.Given, &c.When, &c.Then, &c.Rendered, &c.Order, &updatedAt); err != nil {
		return nil, err
	}
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func insertCriterion(ctx context.Context, ex execer, sessionID string, c *protocol.AcceptanceCriterion, ms int64) error {
	if c.Rendered == "" {
		c.Rendered = mapper.Render(c.Given, c.When, c.Then)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO acceptance_criteria (`+criterionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, c.AcID, c.RequirementReqID, c.Given, c.When, c.Then, c.Rendered, c.Order, ms)
	return mapErr(err)
}

// ListCriteria returns the session's acceptance criteria in order
func (db *DB) ListCriteria(ctx context.Context, sessionID string) ([]protocol.AcceptanceCriterion, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+criterionColumns+` FROM acceptance_criteria WHERE session_id = ? ORDER BY sort_order, ac_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list acceptance criteria: %w", err)
	}
	defer rows.Close()

	out := []protocol.AcceptanceCriterion{}
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan acceptance criterion: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetCriterion returns one criterion or nil
func (db *DB) GetCriterion(ctx context.Context, sessionID, acID string) (*protocol.AcceptanceCriterion, error) {
	c, err := scanCriterion(db.QueryRowContext(ctx, `SELECT `+criterionColumns+` FROM acceptance_criteria WHERE session_id = ? AND ac_id = ?`, sessionID, acID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get acceptance criterion: %w", err)
	}
	return c, nil
}

// CreateCriterion inserts one criterion, rendering it when Rendered is empty
func (db *DB) CreateCriterion(ctx context.Context, sessionID string, c *protocol.AcceptanceCriterion) error {
	now := db.now()
	if err := insertCriterion(ctx, db, sessionID, c, toMillis(now)); err != nil {
		return fmt.Errorf("insert acceptance criterion: %w", err)
	}
	c.SessionID = sessionID
	c.UpdatedAt = now
	return nil
}

// UpdateCriterion applies a partial update and re-renders the criterion
// when any clause changes.
func (db *DB) UpdateCriterion(ctx context.Context, sessionID, acID string, patch protocol.CriterionPatch) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanCriterion(tx.QueryRowContext(ctx, `SELECT `+criterionColumns+` FROM acceptance_criteria WHERE session_id = ? AND ac_id = ?`, sessionID, acID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("update acceptance criterion: %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update acceptance criterion: %w", err)
		}

		var b updateBuilder
		if patch.RequirementReqID != nil {
			b.set("requirement_req_id", *patch.RequirementReqID)
		}
		if patch.Given != nil {
			current.Given = *patch.Given
			b.set("given_text", current.Given)
		}
		if patch.When != nil {
			current.When = *patch.When
			b.set("when_text", current.When)
		}
		if patch.Then != nil {
			current.Then = *patch.Then
			b.set("then_text", current.Then)
		}
		if patch.Given != nil || patch.When != nil || patch.Then != nil {
			b.set("rendered", mapper.Render(current.Given, current.When, current.Then))
		}
		if patch.Order != nil {
			b.set("sort_order", *patch.Order)
		}
		b.set("updated_at", toMillis(db.now()))

		args := append(b.args, sessionID, acID)
		if _, err := tx.ExecContext(ctx, `UPDATE acceptance_criteria SET `+b.clause()+` WHERE session_id = ? AND ac_id = ?`, args...); err != nil {
			return fmt.Errorf("update acceptance criterion: %w", mapErr(err))
		}
		return nil
	})
}

// DeleteCriterion removes one criterion
func (db *DB) DeleteCriterion(ctx context.Context, sessionID, acID string) error {
	return db.execOne(ctx, "delete acceptance criterion", `DELETE FROM acceptance_criteria WHERE session_id = ? AND ac_id = ?`, sessionID, acID)
}

// ReplaceCriteria deletes all of the session's criteria and inserts items
// in one transaction.
func (db *DB) ReplaceCriteria(ctx context.Context, sessionID string, items []protocol.AcceptanceCriterion) error {
	ms := toMillis(db.now())
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM acceptance_criteria WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear acceptance criteria: %w", err)
		}
		for i := range items {
			if err := insertCriterion(ctx, tx, sessionID, &items[i], ms); err != nil {
				return fmt.Errorf("insert acceptance criterion %s: %w", items[i].AcID, err)
			}
		}
		return nil
	})
}

// GetImpact returns the session's impact analysis or nil
func (db *DB) GetImpact(ctx context.Context, sessionID string) (*protocol.ImpactAnalysis, error) {
	var ia protocol.ImpactAnalysis
	var level, modules, risks, assumptions string
	var updatedAt int64
	err := db.QueryRowContext(ctx, `
		SELECT session_id, impact_id, impact_level, affected_modules, explanation, risks, assumptions, updated_at
		FROM impact_analyses WHERE session_id = ?
	`, sessionID).Scan(&ia.SessionID, &ia.ImpactID, &level, &modules, &ia.Explanation, &risks, &assumptions, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get impact analysis: %w", err)
	}
	ia.ImpactLevel = protocol.ImpactLevel(level)
	ia.AffectedModules = decodeList(modules)
	ia.Risks = decodeList(risks)
	ia.Assumptions = decodeList(assumptions)
	ia.UpdatedAt = fromMillis(updatedAt)
	return &ia, nil
}

// UpsertImpact creates or overwrites the session's single impact analysis
func (db *DB) UpsertImpact(ctx context.Context, sessionID string, ia *protocol.ImpactAnalysis) error {
	now := db.now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO impact_analyses (session_id, impact_id, impact_level, affected_modules, explanation, risks, assumptions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			impact_id = excluded.impact_id,
			impact_level = excluded.impact_level,
			affected_modules = excluded.affected_modules,
			explanation = excluded.explanation,
			risks = excluded.risks,
			assumptions = excluded.assumptions,
			updated_at = excluded.updated_at
	`, sessionID, ia.ImpactID, string(ia.ImpactLevel), encodeList(ia.AffectedModules), ia.Explanation,
		encodeList(ia.Risks), encodeList(ia.Assumptions), toMillis(now))
	if err != nil {
		return fmt.Errorf("upsert impact analysis: %w", mapErr(err))
	}
	ia.SessionID = sessionID
	ia.UpdatedAt = now
	return nil
}
