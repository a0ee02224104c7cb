package db

import (
	"context"
	"fmt"

	"github.com/gartstein/priority/internal/priority/models"
	"go.uber.org/zap"
)

// Loader reads record sets for the ranking service. It borrows a shared
// repository when one is given and otherwise, or when the shared handle
// fails, opens a short-lived one per call, closing it afterwards.
type Loader struct {
	cfg    *Config
	shared *Repository
	logger *zap.Logger
}

// NewLoader constructs a Loader. shared may be nil.
func NewLoader(cfg *Config, shared *Repository, logger *zap.Logger) *Loader {
	return &Loader{cfg: cfg, shared: shared, logger: logger.Named("record_loader")}
}

func (l *Loader) LoadRecords(ctx context.Context) (models.RecordSet, error) {
	if l.shared != nil {
		set, err := l.shared.LoadRecords(ctx)
		if err == nil {
			return set, nil
		}
		l.logger.Warn("shared record store failed, opening a dedicated handle", zap.Error(err))
	}

	repo, err := NewRepository(l.cfg)
	if err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			l.logger.Warn("failed to close record store", zap.Error(err))
		}
	}()

	set, err := repo.LoadRecords(ctx)
	if err != nil {
		return models.RecordSet{}, err
	}
	l.logger.Debug("records loaded",
		zap.Int("equipment", len(set.Equipment)),
		zap.Int("relationships", len(set.Relationships)),
	)
	return set, nil
}
