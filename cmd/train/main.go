// Command train runs the offline training pipeline: it loads equipment and
// relationship records, builds labels and features, fits the ranking model
// and writes the model artifact together with a feature snapshot and a
// ranking export.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gartstein/priority/internal/priority/config"
	"github.com/gartstein/priority/internal/priority/db"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/events"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/ingest"
	"github.com/gartstein/priority/internal/priority/labels"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/gartstein/priority/internal/priority/ranker"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// snapshotLayout names a training run's data extraction.
const snapshotLayout = "20060102_150405"

type options struct {
	configPath      string
	dsn             string
	equipmentCSV    string
	relationshipCSV string
	exportCSVOnly   bool
	out             string
	evalSplit       float64
	topK            int
	dryRun          bool
	processedDir    string
}

// publisher is the part of the Kafka producer used after training.
type publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

func execute() error {
	logger := initLogger()
	defer func() { _ = logger.Sync() }()

	opts, cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub publisher
	if cfg.KafkaEnabled() {
		producer, err := events.NewProducer(cfg.Kafka.Brokers, logger, cfg.Kafka.Topic)
		if err != nil {
			logger.Warn("Kafka unavailable, model_trained will not be published", zap.Error(err))
		} else {
			defer producer.Close()
			pub = producer
		}
	}

	if err := run(ctx, opts, cfg, pub, logger, os.Stdout); err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}
	return nil
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger.Named("train")
}

// parseArgs reads the flags and the config file. Flags left unset take
// their values from the config.
func parseArgs(args []string) (options, *config.Config, error) {
	var opts options
	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	fs.StringVar(&opts.dsn, "db", "", "record store DSN or sqlite path")
	fs.StringVar(&opts.equipmentCSV, "equipment-csv", "", "equipment CSV export, used instead of --db")
	fs.StringVar(&opts.relationshipCSV, "relationship-csv", "", "relationship CSV export, used with --equipment-csv")
	fs.BoolVar(&opts.exportCSVOnly, "export-csv-only", false, "export the record store to CSV and exit")
	fs.StringVar(&opts.out, "out", "", "output path of the model artifact")
	fs.Float64Var(&opts.evalSplit, "eval-split", 0.2, "fraction of rows held out for evaluation")
	fs.IntVar(&opts.topK, "top-k", 20, "number of top ranked rows printed per equipment type")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "extract features and write the snapshot only")
	fs.StringVar(&opts.processedDir, "processed-dir", "", "directory for snapshots and exports")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return opts, nil, err
	}
	if !fs.Changed("out") {
		opts.out = cfg.Model.Path
	}
	if !fs.Changed("eval-split") {
		opts.evalSplit = cfg.Training.EvalSplit
	}
	if !fs.Changed("top-k") {
		opts.topK = cfg.Training.TopK
	}
	if !fs.Changed("processed-dir") {
		opts.processedDir = cfg.Data.ProcessedDir
	}
	if !fs.Changed("equipment-csv") && !fs.Changed("db") {
		opts.equipmentCSV = cfg.Data.EquipmentCSV
		opts.relationshipCSV = cfg.Data.RelationshipCSV
	}
	if opts.exportCSVOnly && opts.equipmentCSV != "" {
		return opts, nil, fmt.Errorf("%w: --export-csv-only reads the record store, not CSV files", e.ErrInvalidInput)
	}
	if opts.evalSplit <= 0 || opts.evalSplit >= 1 {
		return opts, nil, fmt.Errorf("%w: --eval-split must be in (0,1), got %v", e.ErrInvalidInput, opts.evalSplit)
	}
	return opts, cfg, nil
}

func run(ctx context.Context, opts options, cfg *config.Config, pub publisher, logger *zap.Logger, stdout io.Writer) error {
	start := time.Now()
	logger.Info("Training pipeline started",
		zap.String("model_out", opts.out),
		zap.Bool("dry_run", opts.dryRun),
	)

	if err := os.MkdirAll(opts.processedDir, 0o755); err != nil {
		return fmt.Errorf("failed to create processed dir: %w", err)
	}

	// Step 1: records.
	set, err := loadRecords(ctx, opts, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Records loaded",
		zap.Int("equipment", len(set.Equipment)),
		zap.Int("relationships", len(set.Relationships)),
	)

	if opts.exportCSVOnly {
		return exportRecords(set, opts.processedDir, logger)
	}
	if len(set.Equipment) == 0 {
		return fmt.Errorf("%w: equipment record set is empty, nothing to train on", e.ErrEmptyDataset)
	}

	// Step 2: labels.
	lab := labels.Build(set)
	if !lab.RelationshipsAvailable {
		logger.Warn("relationship source absent, every label is 0")
	} else if lab.Positives == 0 {
		logger.Warn("no positive labels found, check company names in both sources")
	}
	logger.Info("Labels built", zap.Int("positives", lab.Positives), zap.Int("rows", len(lab.Labels)))

	// Step 3: features.
	matrix := features.NewExtractor(cfg.FeatureConfig(), logger).Extract(set)
	logger.Info("Features extracted", zap.Strings("feature_columns", matrix.Columns()))

	// Step 4: snapshot.
	snapshotID := time.Now().Format(snapshotLayout)
	featuresPath := filepath.Join(opts.processedDir, "features_"+snapshotID+".csv")
	if err := writeCSV(featuresPath, func(w io.Writer) error {
		return ingest.WriteFeaturesCSV(w, matrix, lab.Labels)
	}); err != nil {
		return err
	}
	logger.Info("Feature snapshot saved", zap.String("path", featuresPath), zap.Int("rows", matrix.Len()))

	if opts.dryRun {
		logger.Info("Dry run, skipping model training")
		return nil
	}

	// Step 5: train.
	model := ranker.New(logger, ranker.WithFolds(cfg.Training.Folds))
	metrics, err := model.Train(ctx, matrix, lab.Labels, matrix.Columns(), opts.evalSplit, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to train model: %w", err)
	}
	logMetrics(logger, metrics)

	groupMetrics, err := model.PerGroupMetrics(matrix, lab.Labels, ranker.EvalK)
	if err != nil {
		return fmt.Errorf("failed to compute per-group metrics: %w", err)
	}
	if err := printReport(stdout, groupMetrics, model.FeatureImportances()); err != nil {
		return err
	}

	// Step 6: persist.
	metaPath := ranker.MetaPath(opts.out)
	if err := model.Save(opts.out, metaPath); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	// Step 7: rankings.
	ranked, err := model.RankByGroup(matrix, "", 0)
	if err != nil {
		return fmt.Errorf("failed to rank records: %w", err)
	}
	rankingsPath := filepath.Join(opts.processedDir, "rankings_"+snapshotID+".csv")
	if err := writeCSV(rankingsPath, func(w io.Writer) error {
		return ingest.WriteRankingsCSV(w, ranked)
	}); err != nil {
		return err
	}
	if err := printTopPerGroup(stdout, matrix, ranked, opts.topK); err != nil {
		return err
	}

	if pub != nil {
		event := events.NewEvent(events.ModelTrained)
		event.ModelPath = opts.out
		event.RunID = model.Metadata().RunID
		event.SnapshotID = snapshotID
		if err := pub.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish model_trained event", zap.Error(err))
		}
	}

	logger.Info("Training complete",
		zap.String("model", opts.out),
		zap.String("metadata", metaPath),
		zap.String("rankings", rankingsPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// loadRecords reads the CSV exports when given, otherwise the record store.
// The store is opened for this pass only.
func loadRecords(ctx context.Context, opts options, cfg *config.Config, logger *zap.Logger) (models.RecordSet, error) {
	if opts.equipmentCSV != "" {
		logger.Info("Loading records from CSV",
			zap.String("equipment", opts.equipmentCSV),
			zap.String("relationships", opts.relationshipCSV),
		)
		return ingest.CSVSource{EquipmentPath: opts.equipmentCSV, RelationshipPath: opts.relationshipCSV}.LoadRecords(ctx)
	}
	return db.NewLoader(cfg.DB(opts.dsn), nil, logger).LoadRecords(ctx)
}

// exportRecords writes both sources as CSV so training can run later
// without holding the record store.
func exportRecords(set models.RecordSet, dir string, logger *zap.Logger) error {
	equipmentPath := filepath.Join(dir, "equipment_export.csv")
	relationshipPath := filepath.Join(dir, "relationship_export.csv")

	if err := writeCSV(equipmentPath, func(w io.Writer) error {
		return ingest.WriteEquipmentCSV(w, set.Equipment)
	}); err != nil {
		return err
	}
	if err := writeCSV(relationshipPath, func(w io.Writer) error {
		return ingest.WriteRelationshipCSV(w, set.Relationships)
	}); err != nil {
		return err
	}
	logger.Info("Records exported",
		zap.String("equipment", equipmentPath),
		zap.String("relationships", relationshipPath),
		zap.String("next", fmt.Sprintf("train --equipment-csv %s --relationship-csv %s", equipmentPath, relationshipPath)),
	)
	return nil
}

func writeCSV(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func logMetrics(logger *zap.Logger, m models.Metrics) {
	fields := []zap.Field{
		zap.Float64("auc_cv_mean", float64(m.AUCCVMean)),
		zap.Float64("auc_cv_std", float64(m.AUCCVStd)),
		zap.Float64("auc_test", float64(m.AUCTest)),
		zap.Float64("precision_at_10", float64(m.PrecisionAt10)),
		zap.Float64("ndcg_at_10", float64(m.NDCGAt10)),
	}
	if !m.Discriminative() {
		logger.Warn("Training metrics undefined, model is not discriminative", fields...)
		return
	}
	logger.Info("Training metrics", fields...)
}

func printReport(w io.Writer, groups []models.GroupMetrics, imps []models.FeatureImportance) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "equipment_type\trows\tpositives\tk\tprecision@k\tndcg@k")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\n", g.Group, g.Count, g.Positives, g.K, g.PrecisionAtK, g.NDCGAtK)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "feature\timportance")
	for _, imp := range imps {
		fmt.Fprintf(tw, "%s\t%.4f\n", imp.Feature, imp.Importance)
	}
	return tw.Flush()
}

// printTopPerGroup lists the topK best rows of every equipment type.
func printTopPerGroup(w io.Writer, matrix *features.Matrix, ranked []models.RankedEntry, topK int) error {
	if topK <= 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, group := range matrix.Groups() {
		fmt.Fprintf(tw, "\n%s\n", group)
		fmt.Fprintln(tw, "rank\tcompany\tcountry\tage\tscore")
		n := 0
		for _, entry := range ranked {
			if entry.Group != group {
				continue
			}
			n++
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.0f\t%.0f\n", n, entry.Company, entry.Location, entry.EquipmentAge, entry.PriorityScore)
			if n == topK {
				break
			}
		}
	}
	return tw.Flush()
}
