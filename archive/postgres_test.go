package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Seednode/popbox/game"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("popbox"),
		postgres.WithUsername("popbox"),
		postgres.WithPassword("popbox"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	p, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p
}

func TestPostgres_RecordAndRecent(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Record(ctx, Result{
		RoomID:     "room",
		FinishedAt: start,
		Scores:     []game.Entry{{PlayerID: "a", Name: "Alice", Score: 3}},
	}))
	require.NoError(t, p.Record(ctx, Result{
		RoomID:     "room",
		FinishedAt: start.Add(time.Minute),
		Scores:     []game.Entry{{PlayerID: "b", Name: "Bob", Score: 5}, {PlayerID: "a", Name: "Alice", Score: 0}},
	}))
	require.NoError(t, p.Record(ctx, Result{RoomID: "other", FinishedAt: start}))

	got, err := p.Recent(ctx, "room", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].FinishedAt.Equal(start.Add(time.Minute)))
	assert.Equal(t, "Bob", got[0].Scores[0].Name)
	assert.Len(t, got[0].Scores, 2)
	assert.Equal(t, 3, got[1].Scores[0].Score)

	got, err = p.Recent(ctx, "room", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = p.Recent(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgres_MigrationIsIdempotent(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	for _, stmt := range migrations {
		_, err := p.pool.Exec(ctx, stmt)
		assert.NoError(t, err)
	}
}
