// Command ingest maps loose CSV exports onto the canonical records and
// stores them in the record store, notifying ranking services afterwards.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gartstein/priority/internal/priority/config"
	"github.com/gartstein/priority/internal/priority/db"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/events"
	"github.com/gartstein/priority/internal/priority/ingest"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	configPath      string
	equipmentCSV    string
	relationshipCSV string
	dsn             string
	replace         bool
}

type publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

func main() {
	logger, _ := zap.NewProduction()
	logger = logger.Named("ingest")

	if err := execute(logger); err != nil {
		logger.Error("ingest failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func execute(logger *zap.Logger) error {
	opts, cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	var pub publisher
	if cfg.KafkaEnabled() {
		producer, err := events.NewProducer(cfg.Kafka.Brokers, logger, cfg.Kafka.Topic)
		if err != nil {
			logger.Warn("Kafka unavailable, records_reloaded will not be published", zap.Error(err))
		} else {
			defer producer.Close()
			pub = producer
		}
	}
	return run(context.Background(), opts, cfg, pub, logger)
}

func parseArgs(args []string) (options, *config.Config, error) {
	var opts options
	fs := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	fs.StringVar(&opts.equipmentCSV, "equipment-csv", "", "equipment CSV export")
	fs.StringVar(&opts.relationshipCSV, "relationship-csv", "", "relationship CSV export")
	fs.StringVar(&opts.dsn, "db", "", "record store DSN or sqlite path")
	fs.BoolVar(&opts.replace, "replace", false, "replace every stored record instead of appending")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return opts, nil, err
	}
	if !fs.Changed("equipment-csv") {
		opts.equipmentCSV = cfg.Data.EquipmentCSV
	}
	if !fs.Changed("relationship-csv") {
		opts.relationshipCSV = cfg.Data.RelationshipCSV
	}
	if opts.equipmentCSV == "" {
		return opts, nil, fmt.Errorf("%w: --equipment-csv is required", e.ErrInvalidInput)
	}
	return opts, cfg, nil
}

func run(ctx context.Context, opts options, cfg *config.Config, pub publisher, logger *zap.Logger) error {
	set, err := ingest.CSVSource{
		EquipmentPath:    opts.equipmentCSV,
		RelationshipPath: opts.relationshipCSV,
	}.LoadRecords(ctx)
	if err != nil {
		return err
	}
	if len(set.Equipment) == 0 {
		return fmt.Errorf("%w: %s holds no equipment records", e.ErrEmptyDataset, opts.equipmentCSV)
	}
	if !set.RelationshipsAvailable {
		logger.Warn("no relationship source given, stored relationships are left untouched")
	}

	repo, err := db.NewRepository(cfg.DB(opts.dsn))
	if err != nil {
		return err
	}
	defer repo.Close()

	if opts.replace {
		err = repo.ReplaceRecords(ctx, set)
	} else {
		err = repo.AppendRecords(ctx, set)
	}
	if err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}

	equipment, relationships, err := repo.Counts(ctx)
	if err != nil {
		return err
	}
	logger.Info("Records stored",
		zap.Bool("replace", opts.replace),
		zap.Int("equipment_ingested", len(set.Equipment)),
		zap.Int("relationships_ingested", len(set.Relationships)),
		zap.Int64("equipment_total", equipment),
		zap.Int64("relationships_total", relationships),
	)

	if pub != nil {
		event := events.NewEvent(events.RecordsReloaded)
		event.Equipment = int(equipment)
		event.Relationships = int(relationships)
		if err := pub.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish records_reloaded event", zap.Error(err))
		}
	}
	return nil
}
