package ranker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/gbdt"
	"github.com/gartstein/priority/internal/priority/models"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const artifactVersion = 1

// MetaPath returns the metadata document path belonging to a model artifact.
func MetaPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".meta.json"
}

// Save writes the binary artifact to modelPath and the metadata document to
// metaPath. An empty metaPath uses MetaPath(modelPath).
func (m *Model) Save(modelPath, metaPath string) error {
	if !m.Trained() {
		return e.ErrModelNotTrained
	}
	if metaPath == "" {
		metaPath = MetaPath(modelPath)
	}

	clf, err := m.clf.ToStruct()
	if err != nil {
		return err
	}
	columns := make([]any, len(m.meta.FeatureColumns))
	for i, c := range m.meta.FeatureColumns {
		columns[i] = c
	}
	encodings := make(map[string]any, len(m.meta.Encodings))
	for col, table := range m.meta.Encodings {
		codes := make(map[string]any, len(table))
		for k, v := range table {
			codes[k] = float64(v)
		}
		encodings[col] = codes
	}
	header, err := structpb.NewStruct(map[string]any{
		"version":         float64(artifactVersion),
		"run_id":          m.meta.RunID,
		"reference_year":  float64(m.meta.ReferenceYear),
		"feature_columns": columns,
		"encodings":       encodings,
	})
	if err != nil {
		return fmt.Errorf("failed to encode artifact header: %w", err)
	}
	header.Fields["classifier"] = structpb.NewStructValue(clf)

	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := writeFile(modelPath, raw); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}

	doc, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writeFile(metaPath, doc); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	m.logger.Info("model saved",
		zap.String("model_path", modelPath),
		zap.String("meta_path", metaPath),
	)
	return nil
}

// Load reads an artifact written by Save. The sibling metadata document is
// optional; without it the metrics are undefined.
func Load(modelPath string, logger *zap.Logger, opts ...Option) (*Model, error) {
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", e.ErrModelUnavailable, modelPath)
		}
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	var header structpb.Struct
	if err := proto.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: corrupt model artifact: %v", e.ErrModelUnavailable, err)
	}
	fields := header.GetFields()
	if v := int(fields["version"].GetNumberValue()); v != artifactVersion {
		return nil, fmt.Errorf("%w: artifact version %d", e.ErrModelUnavailable, v)
	}

	clf, err := gbdt.FromStruct(fields["classifier"].GetStructValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrModelUnavailable, err)
	}

	var columns []string
	for _, v := range fields["feature_columns"].GetListValue().GetValues() {
		columns = append(columns, v.GetStringValue())
	}
	if len(columns) != clf.NumFeatures {
		return nil, fmt.Errorf("%w: %d feature columns for %d model inputs", e.ErrModelUnavailable, len(columns), clf.NumFeatures)
	}
	encodings := make(map[string]map[string]int)
	for col, v := range fields["encodings"].GetStructValue().GetFields() {
		table := make(map[string]int)
		for k, code := range v.GetStructValue().GetFields() {
			table[k] = int(code.GetNumberValue())
		}
		encodings[col] = table
	}

	m := New(logger, opts...)
	m.clf = clf
	m.meta = &models.ModelMetadata{
		FeatureColumns: columns,
		Encodings:      encodings,
		RunID:          fields["run_id"].GetStringValue(),
		ReferenceYear:  int(fields["reference_year"].GetNumberValue()),
		Params:         clf.Params.AsMap(),
		Metrics: models.Metrics{
			AUCCVMean: models.NaNMetric(), AUCCVStd: models.NaNMetric(), AUCTest: models.NaNMetric(),
			PrecisionAt10: models.NaNMetric(), NDCGAt10: models.NaNMetric(),
		},
	}

	metaPath := MetaPath(modelPath)
	doc, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		var meta models.ModelMetadata
		if err := json.Unmarshal(doc, &meta); err != nil {
			m.logger.Warn("ignoring unreadable model metadata", zap.String("meta_path", metaPath), zap.Error(err))
			break
		}
		// The binary artifact is authoritative for the schema.
		meta.FeatureColumns = columns
		meta.Encodings = encodings
		meta.ReferenceYear = m.meta.ReferenceYear
		m.meta = &meta
	case os.IsNotExist(err):
		m.logger.Warn("model metadata missing", zap.String("meta_path", metaPath))
	default:
		m.logger.Warn("failed to read model metadata", zap.String("meta_path", metaPath), zap.Error(err))
	}

	m.logger.Info("model loaded",
		zap.String("model_path", modelPath),
		zap.String("run_id", m.meta.RunID),
		zap.Int("trees", len(clf.Trees)),
	)
	return m, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
