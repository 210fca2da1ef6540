package lead

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portlead "github.com/alanyang/lead-mesh/internal/port/lead"
)

var (
	_ portlead.Repository      = (*Repository)(nil)
	_ portlead.CapacityCounter = (*Repository)(nil)
)

const columns = `id, name, phone, source, status, stage, assigned_to, assigned_at, created_at, updated_at`

// Repository implements port/lead.Repository, port/lead.Reader and
// port/lead.CapacityCounter.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, l domainlead.Lead) (domainlead.Lead, error) {
	query := `
		INSERT INTO leads (` + columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING ` + columns

	created, err := scanLead(r.pool.QueryRow(ctx, query,
		l.ID, l.Name, l.Phone, string(l.Source), string(l.Status), l.Stage,
		l.AssignedTo, l.AssignedAt, l.CreatedAt, l.UpdatedAt,
	))
	if err != nil {
		return domainlead.Lead{}, postgres.Classify("inserting lead", err)
	}
	return created, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domainlead.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainlead.Lead{}, fmt.Errorf("lead %s: %w", id, distribution.ErrLeadNotFound)
		}
		return domainlead.Lead{}, postgres.Classify("querying lead", err)
	}
	return l, nil
}

func (r *Repository) List(ctx context.Context, filters domainlead.ListFilters) ([]domainlead.Lead, error) {
	query := `SELECT ` + columns + ` FROM leads WHERE 1=1`

	args := []interface{}{}
	argIdx := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*filters.Status))
		argIdx++
	}
	if filters.AssignedTo != nil {
		query += fmt.Sprintf(" AND assigned_to = $%d", argIdx)
		args = append(args, *filters.AssignedTo)
	}
	if filters.Unassigned {
		query += " AND assigned_to IS NULL"
	}

	if filters.OldestFirst {
		query += " ORDER BY created_at, id"
	} else {
		query += " ORDER BY created_at DESC, id"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.Classify("listing leads", err)
	}
	defer rows.Close()

	return scanLeads(rows)
}

// UpdateStatus implements the CAS transition. An empty stage leaves the stored
// stage untouched.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainlead.Status, stage string) error {
	query := `
		UPDATE leads
		SET status = $3,
		    stage = CASE WHEN $4 = '' THEN stage ELSE $4 END,
		    updated_at = $5
		WHERE id = $1 AND status = $2`

	tag, err := r.pool.Exec(ctx, query, id, string(from), string(to), stage, time.Now().UTC())
	if err != nil {
		return postgres.Classify("updating lead status", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("lead %s: expected status %s: %w", id, from, domainlead.ErrConcurrentUpdate)
	}
	return nil
}

// CountActive counts the agent's leads that still occupy capacity.
func (r *Repository) CountActive(ctx context.Context, agentID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM leads WHERE assigned_to = $1 AND status <> 'closed'`, agentID,
	).Scan(&n)
	if err != nil {
		return 0, postgres.Classify("counting active leads", err)
	}
	return n, nil
}

func scanLead(row pgx.Row) (domainlead.Lead, error) {
	var l domainlead.Lead
	err := row.Scan(
		&l.ID, &l.Name, &l.Phone, &l.Source, &l.Status, &l.Stage,
		&l.AssignedTo, &l.AssignedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

func scanLeads(rows pgx.Rows) ([]domainlead.Lead, error) {
	var leads []domainlead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.Classify("iterating lead rows", err)
	}
	return leads, nil
}
