//go:build integration

package idempotency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgidem "github.com/alanyang/lead-mesh/internal/adapter/postgres/idempotency"
	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
	"github.com/alanyang/lead-mesh/internal/testutil"
)

func TestIdempotencyRepo_FirstWriterWins(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := pgidem.New(pool)

	_, ok, err := repo.Lookup(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := repo.Reserve(ctx, "wamid.1", "POST /api/leads")
	require.NoError(t, err)
	require.True(t, claimed)

	_, ok, err = repo.Lookup(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok, "pending claims are not replayable")

	require.NoError(t, repo.Save(ctx, "wamid.1", portidem.Response{StatusCode: 201, Body: []byte(`{"n":1}`)}))
	require.NoError(t, repo.Save(ctx, "wamid.1", portidem.Response{StatusCode: 201, Body: []byte(`{"n":2}`)}))
	require.NoError(t, repo.Release(ctx, "wamid.1"))

	resp, ok, err := repo.Lookup(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 201, resp.StatusCode)
	assert.JSONEq(t, `{"n":1}`, string(resp.Body))
}

func TestIdempotencyRepo_ConcurrentReserveHasOneWinner(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := pgidem.New(pool)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Reserve(ctx, "wamid.2", "POST /api/leads")
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestIdempotencyRepo_ReleaseAllowsRetry(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := pgidem.New(pool)

	ok, err := repo.Reserve(ctx, "wamid.3", "POST /api/leads")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Release(ctx, "wamid.3"))

	ok, err = repo.Reserve(ctx, "wamid.3", "POST /api/leads")
	require.NoError(t, err)
	assert.True(t, ok)
}
