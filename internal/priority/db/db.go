// Package db persists canonical equipment and relationship records with GORM
// on SQLite or PostgreSQL.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	dbmodels "github.com/gartstein/priority/internal/priority/db/models"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	batchSize = 500
)

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// OpenRetries bounds reconnect attempts while the database is busy or
	// still starting.
	OpenRetries uint64
}

func (c *Config) dialector() (gorm.Dialector, error) {
	switch strings.ToLower(c.Driver) {
	case "", DriverSQLite:
		if c.DSN == "" {
			return nil, fmt.Errorf("%w: sqlite requires a database path", e.ErrInvalidInput)
		}
		return sqlite.Open(c.DSN), nil
	case DriverPostgres:
		dsn := c.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", e.ErrInvalidInput, c.Driver)
	}
}

func NewRepository(cfg *Config) (*Repository, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	connect := func() error {
		conn, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			return err
		}
		db = conn
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(connect, backoff.WithMaxRetries(policy, cfg.OpenRetries)); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if strings.ToLower(cfg.Driver) != DriverPostgres {
		// A single connection serialises writers on the database file and
		// keeps ":memory:" databases alive for the repository lifetime.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&dbmodels.Equipment{}, &dbmodels.Relationship{}, &dbmodels.Source{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Repository{db: db}, nil
}

// LoadRecords reads every stored record in insertion order.
func (r *Repository) LoadRecords(ctx context.Context) (models.RecordSet, error) {
	var equipment []dbmodels.Equipment
	if err := r.db.WithContext(ctx).Order("id").Find(&equipment).Error; err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to read equipment: %w", err)
	}
	var relationships []dbmodels.Relationship
	if err := r.db.WithContext(ctx).Order("id").Find(&relationships).Error; err != nil {
		return models.RecordSet{}, fmt.Errorf("failed to read relationships: %w", err)
	}
	available, err := r.sourceLoaded(ctx, dbmodels.SourceRelationships)
	if err != nil {
		return models.RecordSet{}, err
	}

	set := models.RecordSet{
		Equipment:              make([]models.EquipmentRecord, len(equipment)),
		Relationships:          make([]models.RelationshipRecord, len(relationships)),
		RelationshipsAvailable: available || len(relationships) > 0,
	}
	for i, row := range equipment {
		set.Equipment[i] = row.Record()
	}
	for i, row := range relationships {
		set.Relationships[i] = row.Record()
	}
	return set, nil
}

// ReplaceRecords swaps the stored equipment for set.Equipment, and the stored
// relationships for set.Relationships when set.RelationshipsAvailable.
func (r *Repository) ReplaceRecords(ctx context.Context, set models.RecordSet) error {
	return r.WithTransaction(ctx, func(repo *Repository) error {
		if err := repo.db.Where("1 = 1").Delete(&dbmodels.Equipment{}).Error; err != nil {
			return fmt.Errorf("failed to clear equipment: %w", err)
		}
		if set.RelationshipsAvailable {
			if err := repo.db.Where("1 = 1").Delete(&dbmodels.Relationship{}).Error; err != nil {
				return fmt.Errorf("failed to clear relationships: %w", err)
			}
		}
		return repo.insert(set)
	})
}

// AppendRecords adds set to the stored records.
func (r *Repository) AppendRecords(ctx context.Context, set models.RecordSet) error {
	return r.WithTransaction(ctx, func(repo *Repository) error {
		return repo.insert(set)
	})
}

func (r *Repository) insert(set models.RecordSet) error {
	if len(set.Equipment) > 0 {
		rows := make([]dbmodels.Equipment, len(set.Equipment))
		for i, rec := range set.Equipment {
			rows[i] = dbmodels.EquipmentFromRecord(rec)
		}
		if err := r.db.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("failed to insert equipment: %w", err)
		}
	}
	if !set.RelationshipsAvailable {
		return nil
	}
	if len(set.Relationships) > 0 {
		rows := make([]dbmodels.Relationship, len(set.Relationships))
		for i, rec := range set.Relationships {
			rows[i] = dbmodels.RelationshipFromRecord(rec)
		}
		if err := r.db.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("failed to insert relationships: %w", err)
		}
	}
	marker := dbmodels.Source{Name: dbmodels.SourceRelationships, LoadedAt: time.Now().UTC(), Rows: len(set.Relationships)}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&marker).Error
}

// Counts returns the number of stored equipment and relationship rows.
func (r *Repository) Counts(ctx context.Context) (equipment, relationships int64, err error) {
	if err = r.db.WithContext(ctx).Model(&dbmodels.Equipment{}).Count(&equipment).Error; err != nil {
		return 0, 0, err
	}
	err = r.db.WithContext(ctx).Model(&dbmodels.Relationship{}).Count(&relationships).Error
	return equipment, relationships, err
}

func (r *Repository) sourceLoaded(ctx context.Context, name string) (bool, error) {
	var src dbmodels.Source
	err := r.db.WithContext(ctx).First(&src, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read source marker: %w", err)
	}
	return true, nil
}

func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
