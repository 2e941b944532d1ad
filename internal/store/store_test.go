package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wavelearn/genflow/internal/store"
	"github.com/wavelearn/genflow/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("genflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func testTarget(id string) models.GenerationTarget {
	return models.GenerationTarget{
		Kind:        models.KindStepContent,
		TargetID:    id,
		Fingerprint: models.Fingerprint(map[string]any{"model": "gpt-4o-mini"}),
	}
}

func newJob(target models.GenerationTarget, status models.JobStatus) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:          uuid.New(),
		Kind:        target.Kind,
		TargetID:    target.TargetID,
		Fingerprint: target.Fingerprint,
		Status:      status,
		Payload:     []byte(`{"prompt":"photosynthesis, step 2"}`),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// --- Job tests ---

func TestCreateAndGetJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(testTarget("step-1"), models.JobStatusQueued)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, job.Fingerprint, got.Fingerprint)
	assert.Nil(t, got.ResultRef)
}

func TestGetJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetJobByTarget_ReturnsLatest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	target := testTarget("step-2")

	first := newJob(target, models.JobStatusFailed)
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	first.UpdatedAt = first.CreatedAt
	require.NoError(t, s.CreateJob(ctx, first))

	second := newJob(target, models.JobStatusQueued)
	require.NoError(t, s.CreateJob(ctx, second))

	got, err := s.GetJobByTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestGetJobByTarget_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJobByTarget(context.Background(), testTarget("never-submitted"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateJob_LiveDuplicateRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	target := testTarget("step-3")

	require.NoError(t, s.CreateJob(ctx, newJob(target, models.JobStatusQueued)))

	err := s.CreateJob(ctx, newJob(target, models.JobStatusRunning))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestCreateJob_NewAttemptAfterTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	target := testTarget("step-4")

	first := newJob(target, models.JobStatusQueued)
	require.NoError(t, s.CreateJob(ctx, first))
	require.NoError(t, s.UpdateJobStatus(ctx, first.ID, models.JobStatusFailed,
		store.WithErrorMessage("worker crashed")))

	// The live-job unique index only covers non-terminal attempts.
	assert.NoError(t, s.CreateJob(ctx, newJob(target, models.JobStatusQueued)))
}

func TestUpdateJobStatus_SucceededWithResultRef(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(testTarget("step-5"), models.JobStatusRunning)
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded,
		store.WithResultRef("blob-123")))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.ResultRef)
	assert.Equal(t, "blob-123", *got.ResultRef)
	assert.Nil(t, got.ErrorMessage)
}

func TestUpdateJobStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API key tests ---

func TestAPIKeyLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "frontend",
		KeyHash:   "$2a$10$fakehashfakehashfakehash",
		KeyPrefix: "gf_12345",
		Scopes:    []string{"generate"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	byPrefix, err := s.GetAPIKeyByPrefix(ctx, "gf_12345")
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	assert.Equal(t, []string{"generate"}, byPrefix[0].Scopes)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	byPrefix, err = s.GetAPIKeyByPrefix(ctx, "gf_12345")
	require.NoError(t, err)
	assert.Empty(t, byPrefix)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}
