package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"flowd/pkg/models"
)

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatal(err)
	}

	defStore := NewPostgresDefinitionStore(pool)
	runStore := NewPostgresRunStore(pool)

	t.Run("definition save and get", func(t *testing.T) {
		def := sampleDefinition("wf-pg")
		assert.NoError(t, defStore.Save(ctx, def))

		got, err := defStore.Get(ctx, "wf-pg")
		assert.NoError(t, err)
		assert.Equal(t, def.ID, got.ID)
		assert.Equal(t, def.Steps[0].Action, got.Steps[0].Action)
		assert.Equal(t, def.Triggers[0].Event, got.Triggers[0].Event)
	})

	t.Run("definition duplicate rejected", func(t *testing.T) {
		assert.Error(t, defStore.Save(ctx, sampleDefinition("wf-pg")))
	})

	t.Run("definition get missing", func(t *testing.T) {
		_, err := defStore.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("run lifecycle", func(t *testing.T) {
		run := sampleRun("wf-pg", time.Now().UTC().Truncate(time.Millisecond))
		assert.NoError(t, runStore.Save(ctx, run))

		run.Status = models.RunStatusCompleted
		run.Steps[0].Status = models.StepStatusSucceeded
		run.Context = map[string]map[string]any{"detect": {"ok": true}}
		run.UpdatedAt = time.Now().UTC()
		assert.NoError(t, runStore.Update(ctx, run))

		got, err := runStore.Get(ctx, run.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, got.Status)
		assert.Equal(t, models.StepStatusSucceeded, got.Steps[0].Status)
		assert.Equal(t, true, got.Context["detect"]["ok"])
	})

	t.Run("run update missing", func(t *testing.T) {
		err := runStore.Update(ctx, sampleRun("wf-pg", time.Now()))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("run list filters by definition", func(t *testing.T) {
		other := sampleRun("wf-other", time.Now().UTC())
		assert.NoError(t, defStore.Save(ctx, sampleDefinition("wf-other")))
		assert.NoError(t, runStore.Save(ctx, other))

		runs, err := runStore.List(ctx, "wf-other")
		assert.NoError(t, err)
		assert.Len(t, runs, 1)
		assert.Equal(t, other.ID, runs[0].ID)
	})
}
