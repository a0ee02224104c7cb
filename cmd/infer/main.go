// Command infer scores equipment records with a persisted ranking model and
// writes the ranked list as CSV, JSON or a console table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gartstein/priority/internal/priority/config"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/db"
	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/ingest"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/gartstein/priority/internal/priority/ranker"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	formatCSV   = "csv"
	formatJSON  = "json"
	formatPrint = "print"
)

type options struct {
	configPath      string
	model           string
	dsn             string
	equipmentCSV    string
	relationshipCSV string
	group           string
	topK            int
	format          string
	out             string
	processedDir    string
}

func main() {
	logger, _ := zap.NewProduction()
	logger = logger.Named("infer")
	defer func() { _ = logger.Sync() }()

	opts, cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", zap.Error(err))
		_ = logger.Sync()
		os.Exit(2)
	}
	if err := run(context.Background(), opts, cfg, logger, os.Stdout); err != nil {
		logger.Error("inference failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, *config.Config, error) {
	var opts options
	fs := pflag.NewFlagSet("infer", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	fs.StringVar(&opts.model, "model", "", "model artifact path")
	fs.StringVar(&opts.dsn, "db", "", "record store DSN or sqlite path")
	fs.StringVar(&opts.equipmentCSV, "equipment-csv", "", "equipment CSV export, used instead of --db")
	fs.StringVar(&opts.relationshipCSV, "relationship-csv", "", "relationship CSV export, used with --equipment-csv")
	fs.StringVar(&opts.group, "group", "", "equipment type substring filter")
	fs.IntVar(&opts.topK, "top-k", 0, "number of ranked rows to return, 0 for all")
	fs.StringVar(&opts.format, "format", formatPrint, "output format: csv, json or print")
	fs.StringVar(&opts.out, "out", "", "output file, defaults to a timestamped file in the processed dir")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return opts, nil, err
	}
	if !fs.Changed("model") {
		opts.model = cfg.Model.Path
	}
	if !fs.Changed("equipment-csv") && !fs.Changed("db") {
		opts.equipmentCSV = cfg.Data.EquipmentCSV
		opts.relationshipCSV = cfg.Data.RelationshipCSV
	}
	opts.processedDir = cfg.Data.ProcessedDir

	opts.format = strings.ToLower(opts.format)
	switch opts.format {
	case formatCSV, formatJSON, formatPrint:
	default:
		return opts, nil, fmt.Errorf("%w: unknown format %q", e.ErrInvalidInput, opts.format)
	}
	if opts.topK < 0 {
		return opts, nil, fmt.Errorf("%w: --top-k must not be negative", e.ErrInvalidInput)
	}
	return opts, cfg, nil
}

func run(ctx context.Context, opts options, cfg *config.Config, logger *zap.Logger, stdout io.Writer) error {
	model, err := ranker.Load(opts.model, logger)
	if err != nil {
		return err
	}
	meta := model.Metadata()
	logger.Info("Model loaded",
		zap.String("model", opts.model),
		zap.String("run_id", meta.RunID),
		zap.Strings("feature_columns", meta.FeatureColumns),
	)

	var source controller.RecordSource
	if opts.equipmentCSV != "" {
		source = ingest.CSVSource{EquipmentPath: opts.equipmentCSV, RelationshipPath: opts.relationshipCSV}
	} else {
		source = db.NewLoader(cfg.DB(opts.dsn), nil, logger)
	}
	set, err := source.LoadRecords(ctx)
	if err != nil {
		return err
	}
	if len(set.Equipment) == 0 {
		return fmt.Errorf("%w: no equipment records to score", e.ErrEmptyDataset)
	}

	matrix := features.NewExtractor(cfg.FeatureConfig(), logger).
		Extract(set, model.ExtractOptions()...)
	ranked, err := model.RankByGroup(matrix, opts.group, opts.topK)
	if err != nil {
		return err
	}
	logger.Info("Records scored", zap.Int("rows", matrix.Len()), zap.Int("ranked", len(ranked)))

	switch opts.format {
	case formatPrint:
		return printRanking(stdout, opts.group, ranked)
	case formatCSV:
		path := outputPath(opts, "csv")
		if err := writeFile(path, func(w io.Writer) error { return ingest.WriteRankingsCSV(w, ranked) }); err != nil {
			return err
		}
		logger.Info("CSV saved", zap.String("path", path))
	case formatJSON:
		path := outputPath(opts, "json")
		if err := writeFile(path, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if ranked == nil {
				ranked = []models.RankedEntry{}
			}
			return enc.Encode(ranked)
		}); err != nil {
			return err
		}
		logger.Info("JSON saved", zap.String("path", path))
	}
	return nil
}

func outputPath(opts options, ext string) string {
	if opts.out != "" {
		return opts.out
	}
	return filepath.Join(opts.processedDir, fmt.Sprintf("ranking_%s.%s", time.Now().Format("20060102_150405"), ext))
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return write(f)
}

func printRanking(w io.Writer, group string, ranked []models.RankedEntry) error {
	title := group
	if title == "" {
		title = "all equipment types"
	}
	fmt.Fprintf(w, "Priority ranking: %s\n\n", title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tcompany\tequipment_type\tcountry\tage\tscore")
	for _, entry := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.0f\t%.0f\n",
			entry.Rank, entry.Company, entry.Group, entry.Location, entry.EquipmentAge, entry.PriorityScore)
	}
	return tw.Flush()
}
