package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portassignment "github.com/alanyang/lead-mesh/internal/port/assignment"
)

var (
	_ portassignment.Writer      = (*Repository)(nil)
	_ portassignment.Transferrer = (*Repository)(nil)
	_ portassignment.LogReader   = (*Repository)(nil)
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Assign claims an unassigned lead for rec.AgentID and appends the log entry in
// one transaction. With a positive CapacityGuard the UPDATE only matches while
// the agent is still under the limit, so a stale capacity read can never
// overshoot max_leads.
func (r *Repository) Assign(ctx context.Context, rec domainassignment.Record) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return postgres.Classify("begin assignment", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		UPDATE leads
		SET assigned_to = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1
		  AND assigned_to IS NULL
		  AND ($4::int = 0 OR (
			SELECT count(*) FROM leads
			WHERE assigned_to = $2 AND status <> 'closed'
		  ) < $4::int)`

	tag, err := tx.Exec(ctx, query, rec.LeadID, rec.AgentID, rec.AssignedAt, rec.CapacityGuard)
	if err != nil {
		return postgres.Classify("assigning lead", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, tx, rec.LeadID)
	}

	if err := insertLog(ctx, tx, rec.Entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return postgres.Classify("commit assignment", err)
	}
	return nil
}

// explainMiss works out why the conditional UPDATE matched no row.
func (r *Repository) explainMiss(ctx context.Context, tx pgx.Tx, leadID uuid.UUID) error {
	var assignedTo *uuid.UUID
	err := tx.QueryRow(ctx, `SELECT assigned_to FROM leads WHERE id = $1`, leadID).Scan(&assignedTo)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("lead %s: %w", leadID, distribution.ErrLeadNotFound)
	case err != nil:
		return postgres.Classify("re-reading lead", err)
	case assignedTo != nil:
		return fmt.Errorf("lead %s: %w", leadID, distribution.ErrAlreadyAssigned)
	default:
		return &distribution.TransientError{Op: "assign lead", Err: distribution.ErrCapacityExceeded}
	}
}

// Transfer moves the lead only while fromAgentID still holds it.
func (r *Repository) Transfer(ctx context.Context, leadID, fromAgentID, toAgentID uuid.UUID, entry domainassignment.LogEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return postgres.Classify("begin transfer", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE leads
		SET assigned_to = $3, assigned_at = $4, updated_at = $4
		WHERE id = $1 AND assigned_to = $2`,
		leadID, fromAgentID, toAgentID, entry.CreatedAt,
	)
	if err != nil {
		return postgres.Classify("transferring lead", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, leadID).Scan(&exists); err != nil {
			return postgres.Classify("re-reading lead", err)
		}
		if !exists {
			return fmt.Errorf("lead %s: %w", leadID, distribution.ErrLeadNotFound)
		}
		return fmt.Errorf("lead %s: not held by agent %s: %w", leadID, fromAgentID, domainlead.ErrConcurrentUpdate)
	}

	if err := insertLog(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return postgres.Classify("commit transfer", err)
	}
	return nil
}

func (r *Repository) ListByLead(ctx context.Context, leadID uuid.UUID) ([]domainassignment.LogEntry, error) {
	query := `
		SELECT id, lead_id, agent_id, action, created_at
		FROM assignment_logs WHERE lead_id = $1
		ORDER BY created_at ASC, id`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, postgres.Classify("listing assignment logs", err)
	}
	defer rows.Close()

	var entries []domainassignment.LogEntry
	for rows.Next() {
		var e domainassignment.LogEntry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.AgentID, &e.Action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment log row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertLog(ctx context.Context, tx pgx.Tx, e domainassignment.LogEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO assignment_logs (id, lead_id, agent_id, action, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.LeadID, e.AgentID, e.Action, e.CreatedAt,
	)
	if err != nil {
		return postgres.Classify("inserting assignment log", err)
	}
	return nil
}
