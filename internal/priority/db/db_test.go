package db

import (
	"context"
	"path/filepath"
	"testing"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/fixtures"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/gartstein/priority/internal/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// SetupTestDB initializes an in-memory SQLite repository for testing.
func SetupTestDB(t *testing.T) *Repository {
	repo, err := NewRepository(&Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestReplaceAndLoadRecords(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceRecords(ctx, fixtures.Records()))

	set, err := repo.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Equipment(), set.Equipment)
	assert.Equal(t, fixtures.Relationships(), set.Relationships)
	assert.True(t, set.RelationshipsAvailable)

	eq, rel, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), eq)
	assert.Equal(t, int64(3), rel)
}

func TestReplaceRecords_Overwrites(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.ReplaceRecords(ctx, fixtures.Records()))

	next := models.RecordSet{
		Equipment: []models.EquipmentRecord{{Company: "Omega Foundry", EquipmentType: "EAF", StartYear: utils.Ptr(2001)}},
	}
	require.NoError(t, repo.ReplaceRecords(ctx, next))

	set, err := repo.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, set.Equipment, 1)
	assert.Equal(t, "Omega Foundry", set.Equipment[0].Company)
	// Relationships were not part of the replacement and survive.
	assert.Len(t, set.Relationships, 3)
	assert.True(t, set.RelationshipsAvailable)
}

func TestAppendRecords(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	first := models.RecordSet{Equipment: fixtures.Equipment()[:2]}
	second := models.RecordSet{Equipment: fixtures.Equipment()[2:5]}
	require.NoError(t, repo.AppendRecords(ctx, first))
	require.NoError(t, repo.AppendRecords(ctx, second))

	set, err := repo.LoadRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Equipment()[:5], set.Equipment)
	assert.False(t, set.RelationshipsAvailable)
	assert.Empty(t, set.Relationships)
}

func TestEmptyRelationshipSourceIsAvailable(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceRecords(ctx, models.RecordSet{
		Equipment:              fixtures.Equipment()[:1],
		RelationshipsAvailable: true,
	}))

	set, err := repo.LoadRecords(ctx)
	require.NoError(t, err)
	assert.True(t, set.RelationshipsAvailable)
	assert.Empty(t, set.Relationships)

	// A second ingest updates the marker instead of failing on its key.
	require.NoError(t, repo.ReplaceRecords(ctx, fixtures.Records()))
}

func TestNewRepository_InvalidConfig(t *testing.T) {
	_, err := NewRepository(&Config{Driver: "oracle", DSN: "x"})
	assert.ErrorIs(t, err, e.ErrInvalidInput)

	_, err = NewRepository(&Config{Driver: DriverSQLite})
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestLoader_OpensShortLivedRepository(t *testing.T) {
	cfg := &Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "records.db")}
	repo, err := NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceRecords(context.Background(), fixtures.Records()))
	require.NoError(t, repo.Close())

	loader := NewLoader(cfg, nil, zaptest.NewLogger(t))
	set, err := loader.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Equipment, 30)

	// The file stays usable, so the loader released its handle.
	again, err := loader.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, set, again)
}

func TestLoader_BorrowsSharedRepository(t *testing.T) {
	repo := SetupTestDB(t)
	require.NoError(t, repo.ReplaceRecords(context.Background(), fixtures.Records()))

	// An unusable config proves the shared repository is used.
	loader := NewLoader(&Config{Driver: "unused"}, repo, zaptest.NewLogger(t))
	set, err := loader.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Equipment, 30)

	_, err = repo.LoadRecords(context.Background())
	assert.NoError(t, err, "shared repository must stay open")
}

func TestLoader_FallsBackWhenSharedRepositoryFails(t *testing.T) {
	cfg := &Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "records.db")}
	shared, err := NewRepository(cfg)
	require.NoError(t, err)
	require.NoError(t, shared.ReplaceRecords(context.Background(), fixtures.Records()))
	require.NoError(t, shared.Close())

	core, logs := observer.New(zap.WarnLevel)
	loader := NewLoader(cfg, shared, zap.New(core))
	set, err := loader.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Equipment, 30)
	assert.Equal(t, 1, logs.FilterMessageSnippet("opening a dedicated handle").Len())

	loader = NewLoader(&Config{Driver: "unused"}, shared, zaptest.NewLogger(t))
	_, err = loader.LoadRecords(context.Background())
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestLoader_OpenFailure(t *testing.T) {
	loader := NewLoader(&Config{Driver: "unused"}, nil, zaptest.NewLogger(t))
	_, err := loader.LoadRecords(context.Background())
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}
