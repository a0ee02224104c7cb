package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50051, cfg.GRPCPort)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "models/priority_model.pb", cfg.Model.Path)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0.2, cfg.Training.EvalSplit)
	assert.Equal(t, 20, cfg.Training.TopK)
	assert.Equal(t, 5, cfg.Training.Folds)
	assert.Equal(t, 100.0, cfg.Features.AgeCap)
	assert.Equal(t, 15.0, cfg.Features.DefaultAge)
	assert.Equal(t, "SMS", cfg.Features.OwnerBrand)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_ShippedFile(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "priority.events", cfg.Kafka.Topic)
	assert.Equal(t, "data/processed", cfg.Data.ProcessedDir)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
grpc_port: 6000
http_port: 6001
model:
  path: /srv/model.pb
features:
  reference_year: 2025
  owner_brand: ACME
training:
  eval_split: 0.3
kafka:
  brokers: [kafka-1:9092]
redis:
  ttl: 30s
`)
	t.Setenv("HTTP_PORT", "7001")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.GRPCPort)
	assert.Equal(t, 7001, cfg.HTTPPort, "environment overrides the file")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, 0.3, cfg.Training.EvalSplit)
	assert.Equal(t, 20, cfg.Training.TopK, "unset fields take defaults")
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)

	svc := cfg.Service()
	assert.Equal(t, "/srv/model.pb", svc.ModelPath)
	assert.Equal(t, 2025, svc.Features.ReferenceYear)
	assert.Equal(t, "ACME", svc.Features.OwnerBrand)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"eval split out of range", "training:\n  eval_split: 1.5\n"},
		{"unknown driver", "database:\n  driver: mysql\n"},
		{"same ports", "grpc_port: 9000\nhttp_port: 9000\n"},
		{"default age above cap", "features:\n  age_cap: 10\n  default_age: 20\n"},
		{"single fold", "training:\n  folds: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, e.ErrInvalidInput)
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "grpc_port: [not a number\n"))
	assert.Error(t, err)
}

func TestConfig_Derived(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	dbCfg := cfg.DB("")
	assert.Equal(t, "data/priority.db", dbCfg.DSN)
	assert.Equal(t, uint64(5), dbCfg.OpenRetries)
	assert.Equal(t, "/tmp/other.db", cfg.DB("/tmp/other.db").DSN)

	assert.Equal(t, time.Now().Year(), cfg.FeatureConfig().ReferenceYear)
	assert.Empty(t, cfg.Cache().Addr)
}
