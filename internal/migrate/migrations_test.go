package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/db"
)

func TestStepsAreOrdered(t *testing.T) {
	steps, err := Steps()
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	for i, s := range steps {
		assert.Equal(t, i+1, s.Version, s.Name)
		assert.NotEmpty(t, s.SQL)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()

	require.NoError(t, Migrate(conn))
	require.NoError(t, MigrateContext(ctx, conn))

	steps, err := Steps()
	require.NoError(t, err)
	v, err := Current(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, steps[len(steps)-1].Version, v)

	for _, table := range []string{"counters", "events", "history", "recall"} {
		var n int
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
