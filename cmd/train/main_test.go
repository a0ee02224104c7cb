package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gartstein/priority/internal/priority/config"
	"github.com/gartstein/priority/internal/priority/db"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/events"
	"github.com/gartstein/priority/internal/priority/fixtures"
	"github.com/gartstein/priority/internal/priority/ingest"
	"github.com/gartstein/priority/internal/priority/ranker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Features.ReferenceYear = fixtures.ReferenceYear
	return cfg
}

func writeFixtureCSVs(t *testing.T, dir string) (string, string) {
	t.Helper()
	equipment := filepath.Join(dir, "equipment.csv")
	relationships := filepath.Join(dir, "relationships.csv")
	require.NoError(t, writeCSV(equipment, func(w io.Writer) error {
		return ingest.WriteEquipmentCSV(w, fixtures.Equipment())
	}))
	require.NoError(t, writeCSV(relationships, func(w io.Writer) error {
		return ingest.WriteRelationshipCSV(w, fixtures.Relationships())
	}))
	return equipment, relationships
}

func glob(t *testing.T, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	require.NoError(t, err)
	return matches
}

func TestRun_FromCSV(t *testing.T) {
	dir := t.TempDir()
	equipment, relationships := writeFixtureCSVs(t, dir)
	opts := options{
		equipmentCSV:    equipment,
		relationshipCSV: relationships,
		out:             filepath.Join(dir, "models", "priority.pb"),
		evalSplit:       0.2,
		topK:            3,
		processedDir:    filepath.Join(dir, "processed"),
	}

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev events.Event) bool {
		return ev.Type == events.ModelTrained && ev.ModelPath == opts.out && ev.RunID != "" && ev.SnapshotID != ""
	})).Return(nil).Once()

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), opts, testConfig(t), pub, zaptest.NewLogger(t), &stdout))

	assert.FileExists(t, opts.out)
	assert.FileExists(t, ranker.MetaPath(opts.out))
	assert.Len(t, glob(t, filepath.Join(opts.processedDir, "features_*.csv")), 1)
	rankings := glob(t, filepath.Join(opts.processedDir, "rankings_*.csv"))
	require.Len(t, rankings, 1)

	f, err := os.Open(rankings[0])
	require.NoError(t, err)
	defer f.Close()
	_, rows, err := ingest.ReadCSV(f)
	require.NoError(t, err)
	assert.Len(t, rows, 30)

	model, err := ranker.Load(opts.out, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 24, model.Metadata().TrainRows)

	report := stdout.String()
	assert.Contains(t, report, "importance")
	assert.Contains(t, report, "Blast Furnace")
	pub.AssertExpectations(t)
}

func TestRun_DryRunWritesSnapshotOnly(t *testing.T) {
	dir := t.TempDir()
	equipment, relationships := writeFixtureCSVs(t, dir)
	opts := options{
		equipmentCSV:    equipment,
		relationshipCSV: relationships,
		out:             filepath.Join(dir, "priority.pb"),
		evalSplit:       0.2,
		dryRun:          true,
		processedDir:    filepath.Join(dir, "processed"),
	}

	require.NoError(t, run(context.Background(), opts, testConfig(t), nil, zaptest.NewLogger(t), io.Discard))

	assert.NoFileExists(t, opts.out)
	assert.Len(t, glob(t, filepath.Join(opts.processedDir, "features_*.csv")), 1)
	assert.Empty(t, glob(t, filepath.Join(opts.processedDir, "rankings_*.csv")))
}

func TestRun_EmptyEquipment(t *testing.T) {
	dir := t.TempDir()
	equipment := filepath.Join(dir, "equipment.csv")
	require.NoError(t, os.WriteFile(equipment, []byte("company_name,equipment_type\n"), 0o600))

	opts := options{equipmentCSV: equipment, evalSplit: 0.2, processedDir: dir, out: filepath.Join(dir, "m.pb")}
	err := run(context.Background(), opts, testConfig(t), nil, zaptest.NewLogger(t), io.Discard)
	assert.ErrorIs(t, err, e.ErrEmptyDataset)
}

func TestRun_MissingEquipmentFile(t *testing.T) {
	dir := t.TempDir()
	opts := options{equipmentCSV: filepath.Join(dir, "missing.csv"), evalSplit: 0.2, processedDir: dir}
	assert.Error(t, run(context.Background(), opts, testConfig(t), nil, zaptest.NewLogger(t), io.Discard))
}

func TestRun_ExportCSVOnly(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "records.db")
	repo, err := db.NewRepository(&db.Config{Driver: db.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceRecords(context.Background(), fixtures.Records()))
	require.NoError(t, repo.Close())

	opts := options{dsn: dsn, exportCSVOnly: true, evalSplit: 0.2, processedDir: filepath.Join(dir, "processed")}
	require.NoError(t, run(context.Background(), opts, testConfig(t), nil, zaptest.NewLogger(t), io.Discard))

	set, err := ingest.CSVSource{
		EquipmentPath:    filepath.Join(opts.processedDir, "equipment_export.csv"),
		RelationshipPath: filepath.Join(opts.processedDir, "relationship_export.csv"),
	}.LoadRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixtures.Equipment(), set.Equipment)
	assert.Len(t, set.Relationships, 3)
	assert.Empty(t, glob(t, filepath.Join(opts.processedDir, "features_*.csv")))
}

func TestParseArgs(t *testing.T) {
	t.Run("config defaults", func(t *testing.T) {
		opts, cfg, err := parseArgs(nil)
		require.NoError(t, err)
		assert.Equal(t, cfg.Model.Path, opts.out)
		assert.Equal(t, 0.2, opts.evalSplit)
		assert.Equal(t, 20, opts.topK)
		assert.Equal(t, cfg.Data.ProcessedDir, opts.processedDir)
	})

	t.Run("flags win", func(t *testing.T) {
		opts, _, err := parseArgs([]string{"--out", "m.pb", "--eval-split", "0.3", "--top-k", "5", "--dry-run", "--equipment-csv", "e.csv"})
		require.NoError(t, err)
		assert.Equal(t, "m.pb", opts.out)
		assert.Equal(t, 0.3, opts.evalSplit)
		assert.Equal(t, 5, opts.topK)
		assert.True(t, opts.dryRun)
		assert.Equal(t, "e.csv", opts.equipmentCSV)
	})

	tests := []struct {
		name string
		args []string
	}{
		{"eval split too large", []string{"--eval-split", "1"}},
		{"export from csv", []string{"--export-csv-only", "--equipment-csv", "e.csv"}},
		{"unknown flag", []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseArgs(tt.args)
			assert.Error(t, err)
		})
	}
}
