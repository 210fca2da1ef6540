package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
)

var (
	_ portagent.Repository = (*Repository)(nil)
	_ portagent.PoolReader = (*Repository)(nil)
)

const columns = `id, name, email, role, available, max_leads, created_at`

// Repository implements both port/agent.Repository and port/agent.PoolReader.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error) {
	query := `
		INSERT INTO agents (` + columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + columns

	created, err := scanAgent(r.pool.QueryRow(ctx, query,
		a.ID, a.Name, a.Email, string(a.Role), a.Available, a.MaxLeads, a.CreatedAt,
	))
	if err != nil {
		return domainagent.Agent{}, postgres.Classify("inserting agent", err)
	}
	return created, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	a, err := scanAgent(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainagent.Agent{}, fmt.Errorf("agent %s: %w", id, distribution.ErrAgentNotFound)
		}
		return domainagent.Agent{}, postgres.Classify("querying agent", err)
	}
	return a, nil
}

func (r *Repository) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	query := `SELECT ` + columns + ` FROM agents WHERE 1=1`

	args := []interface{}{}
	argIdx := 1

	if filters.Role != nil {
		query += fmt.Sprintf(" AND role = $%d", argIdx)
		args = append(args, string(*filters.Role))
		argIdx++
	}
	if filters.Available != nil {
		query += fmt.Sprintf(" AND available = $%d", argIdx)
		args = append(args, *filters.Available)
	}

	query += " ORDER BY created_at, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.Classify("listing agents", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (r *Repository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE agents SET available = $1 WHERE id = $2`, available, id)
	if err != nil {
		return postgres.Classify("updating agent availability", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, distribution.ErrAgentNotFound)
	}
	return nil
}

func (r *Repository) SetMaxLeads(ctx context.Context, id uuid.UUID, maxLeads int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE agents SET max_leads = $1 WHERE id = $2`, maxLeads, id)
	if err != nil {
		return postgres.Classify("updating agent max leads", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, distribution.ErrAgentNotFound)
	}
	return nil
}

// ListEligible returns the distribution pool: available non-admin agents in
// creation order. The id tiebreak keeps the order stable for agents created in
// the same instant.
func (r *Repository) ListEligible(ctx context.Context) ([]domainagent.Agent, error) {
	query := `
		SELECT ` + columns + `
		FROM agents
		WHERE role = 'user' AND available
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, postgres.Classify("listing eligible agents", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (r *Repository) FirstAdmin(ctx context.Context) (domainagent.Agent, error) {
	query := `
		SELECT ` + columns + `
		FROM agents
		WHERE role = 'admin'
		ORDER BY created_at, id
		LIMIT 1`

	a, err := scanAgent(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainagent.Agent{}, distribution.ErrNoAdmin
		}
		return domainagent.Agent{}, postgres.Classify("querying first admin", err)
	}
	return a, nil
}

func scanAgent(row pgx.Row) (domainagent.Agent, error) {
	var a domainagent.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Available, &a.MaxLeads, &a.CreatedAt)
	return a, err
}

func scanAgents(rows pgx.Rows) ([]domainagent.Agent, error) {
	var agents []domainagent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.Classify("iterating agent rows", err)
	}
	return agents, nil
}
