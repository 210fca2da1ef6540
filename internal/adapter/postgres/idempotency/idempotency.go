package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/lead-mesh/internal/adapter/postgres"
	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
)

var _ portidem.Store = (*Repository)(nil)

// Repository keeps idempotency keys in processed_requests. status_code 0 marks
// a claim whose request has not finished.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Reserve inserts a pending row. The primary key makes the claim atomic across
// replicas; a pending row older than ClaimTTL is taken over.
func (r *Repository) Reserve(ctx context.Context, key, operation string) (bool, error) {
	query := `
		INSERT INTO processed_requests (idempotency_key, operation, status_code, created_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (idempotency_key) DO UPDATE
			SET operation = EXCLUDED.operation, created_at = NOW()
			WHERE processed_requests.status_code = 0
			  AND processed_requests.created_at < NOW() - make_interval(secs => $3)`

	tag, err := r.pool.Exec(ctx, query, key, operation, portidem.ClaimTTL.Seconds())
	if err != nil {
		return false, postgres.Classify("claiming idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Lookup(ctx context.Context, key string) (portidem.Response, bool, error) {
	query := `
		SELECT status_code, response_jsonb FROM processed_requests
		WHERE idempotency_key = $1 AND status_code <> 0`

	var resp portidem.Response
	err := r.pool.QueryRow(ctx, query, key).Scan(&resp.StatusCode, &resp.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return portidem.Response{}, false, nil
		}
		return portidem.Response{}, false, postgres.Classify("checking idempotency key", err)
	}
	return resp, true, nil
}

// Save completes a pending claim. A completed row is never overwritten.
func (r *Repository) Save(ctx context.Context, key string, resp portidem.Response) error {
	query := `
		UPDATE processed_requests
		SET status_code = $2, response_jsonb = $3
		WHERE idempotency_key = $1 AND status_code = 0`

	if _, err := r.pool.Exec(ctx, query, key, resp.StatusCode, resp.Body); err != nil {
		return postgres.Classify("storing idempotency key", err)
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, key string) error {
	query := `DELETE FROM processed_requests WHERE idempotency_key = $1 AND status_code = 0`
	if _, err := r.pool.Exec(ctx, query, key); err != nil {
		return postgres.Classify("releasing idempotency key", err)
	}
	return nil
}
