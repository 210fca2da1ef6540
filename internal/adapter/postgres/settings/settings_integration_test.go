//go:build integration

package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgsettings "github.com/alanyang/lead-mesh/internal/adapter/postgres/settings"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	"github.com/alanyang/lead-mesh/internal/testutil"
)

func TestSettingsRepo_GetSet(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := pgsettings.New(pool)

	_, ok, err := repo.Get(ctx, distribution.SettingKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, distribution.SettingKey, "least-busy"))
	require.NoError(t, repo.Set(ctx, distribution.SettingKey, "random"))

	v, ok, err := repo.Get(ctx, distribution.SettingKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "random", v)
}
