// Package ranker trains, evaluates, persists and applies the gradient-boosted
// priority model.
package ranker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/gbdt"
	"github.com/gartstein/priority/internal/priority/metrics"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EvalK is the cutoff of the held-out ranking metrics.
const EvalK = 10

// DefaultFolds is the cross-validation fold count before class-size bounding.
const DefaultFolds = 5

// Option configures a Model.
type Option func(*Model)

// WithParams overrides the boosting parameters.
func WithParams(p gbdt.Params) Option {
	return func(m *Model) { m.params = p }
}

// WithFolds overrides the cross-validation fold count.
func WithFolds(k int) Option {
	return func(m *Model) { m.folds = k }
}

// WithSeed overrides the sampling seed.
func WithSeed(seed int64) Option {
	return func(m *Model) { m.seed = seed }
}

// Model wraps a boosted classifier together with the feature schema and
// metadata it was trained with.
type Model struct {
	logger *zap.Logger
	params gbdt.Params
	folds  int
	seed   int64

	clf  *gbdt.Classifier
	meta *models.ModelMetadata
}

// New returns an untrained model.
func New(logger *zap.Logger, opts ...Option) *Model {
	m := &Model{
		logger: logger.Named("ranking_model"),
		params: gbdt.DefaultParams(),
		folds:  DefaultFolds,
		seed:   metrics.DefaultSeed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trained reports whether the model can predict.
func (m *Model) Trained() bool { return m.clf != nil && m.meta != nil }

// Metadata returns a copy of the training metadata, or nil when untrained.
func (m *Model) Metadata() *models.ModelMetadata {
	if m.meta == nil {
		return nil
	}
	cp := *m.meta
	cp.FeatureColumns = append([]string(nil), m.meta.FeatureColumns...)
	return &cp
}

// Encodings returns the category encodings the model was trained with.
func (m *Model) Encodings() features.Encodings {
	if m.meta == nil {
		return nil
	}
	return features.Encodings(m.meta.Encodings)
}

// ReferenceYear returns the year equipment ages were computed against during
// training, or zero when the artifact predates it.
func (m *Model) ReferenceYear() int {
	if m.meta == nil {
		return 0
	}
	return m.meta.ReferenceYear
}

// ExtractOptions reproduces the training-time extraction for serving: the
// persisted encodings and the persisted reference year.
func (m *Model) ExtractOptions() []features.Option {
	return []features.Option{
		features.WithEncodings(m.Encodings()),
		features.WithReferenceYear(m.ReferenceYear()),
	}
}

// Train fits the model on matrix restricted to featureColumns and evaluates
// it with stratified cross-validation and a stratified held-out split.
// An empty featureColumns selects every matrix column.
func (m *Model) Train(ctx context.Context, matrix *features.Matrix, labels []int, featureColumns []string, evalSplit float64, snapshotID string) (models.Metrics, error) {
	undefined := models.Metrics{
		AUCCVMean: models.NaNMetric(), AUCCVStd: models.NaNMetric(), AUCTest: models.NaNMetric(),
		PrecisionAt10: models.NaNMetric(), NDCGAt10: models.NaNMetric(),
	}
	if matrix == nil || matrix.Len() == 0 {
		return undefined, fmt.Errorf("%w: no rows to train on", e.ErrEmptyDataset)
	}
	if len(labels) != matrix.Len() {
		return undefined, fmt.Errorf("%w: %d labels for %d rows", e.ErrInvalidInput, len(labels), matrix.Len())
	}
	if evalSplit <= 0 || evalSplit >= 1 {
		return undefined, fmt.Errorf("%w: eval split %v outside (0,1)", e.ErrInvalidInput, evalSplit)
	}
	if len(featureColumns) == 0 {
		featureColumns = matrix.Columns()
	}
	x, err := matrix.Select(featureColumns)
	if err != nil {
		return undefined, err
	}

	positives := 0
	for _, l := range labels {
		if l > 0 {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		m.logger.Warn("labels hold a single class, evaluation metrics are undefined",
			zap.Int("rows", len(labels)),
			zap.Int("positives", positives),
		)
	}

	trainIdx, testIdx := metrics.StratifiedSplit(labels, evalSplit, m.seed)
	xTrain, yTrain := take(x, labels, trainIdx)
	xTest, yTest := take(x, labels, testIdx)

	params := m.params
	if pos := countPositive(yTrain); pos > 0 {
		params.ScalePosWeight = float64(len(yTrain)-pos) / float64(pos)
	}
	if params.ScalePosWeight <= 0 {
		params.ScalePosWeight = 1
	}

	cvMean, cvStd, err := m.crossValidate(ctx, xTrain, yTrain, params)
	if err != nil {
		return undefined, err
	}

	clf, err := gbdt.Fit(ctx, xTrain, yTrain, params)
	if err != nil {
		return undefined, fmt.Errorf("failed to fit model: %w", err)
	}

	result := models.Metrics{
		AUCCVMean:     models.Metric(cvMean),
		AUCCVStd:      models.Metric(cvStd),
		AUCTest:       models.NaNMetric(),
		PrecisionAt10: models.Metric(0),
		NDCGAt10:      models.Metric(0),
	}
	if len(xTest) > 0 {
		proba, err := clf.PredictProba(xTest)
		if err != nil {
			return undefined, err
		}
		result.AUCTest = models.Metric(metrics.AUC(yTest, proba))
		result.PrecisionAt10 = models.Metric(metrics.PrecisionAtK(yTest, proba, EvalK))
		result.NDCGAt10 = models.Metric(metrics.NDCGAtK(yTest, proba, EvalK))
	}

	m.clf = clf
	m.meta = &models.ModelMetadata{
		TrainedAt:      time.Now().UTC(),
		FeatureColumns: append([]string(nil), featureColumns...),
		Metrics:        result,
		DataSnapshotID: snapshotID,
		RunID:          uuid.NewString(),
		Encodings:      matrix.Metadata.Encodings,
		ReferenceYear:  matrix.Metadata.ReferenceYear,
		Params:         params.AsMap(),
		TrainRows:      len(trainIdx),
		TestRows:       len(testIdx),
		Positives:      positives,
	}

	m.logger.Info("model trained",
		zap.String("run_id", m.meta.RunID),
		zap.Int("train_rows", len(trainIdx)),
		zap.Int("test_rows", len(testIdx)),
		zap.Float64("auc_cv_mean", cvMean),
		zap.Float64("auc_test", float64(result.AUCTest)),
	)
	return result, nil
}

func (m *Model) crossValidate(ctx context.Context, x [][]float64, y []int, params gbdt.Params) (float64, float64, error) {
	folds := metrics.StratifiedKFold(y, m.folds, m.seed)
	if len(folds) == 0 {
		m.logger.Warn("cross-validation skipped, a class is too small", zap.Int("rows", len(y)))
		return math.NaN(), math.NaN(), nil
	}

	aucs := make([]float64, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	for i, fold := range folds {
		i, fold := i, fold
		g.Go(func() error {
			xt, yt := take(x, y, fold.Train)
			xv, yv := take(x, y, fold.Valid)
			clf, err := gbdt.Fit(gctx, xt, yt, params)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			proba, err := clf.PredictProba(xv)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			aucs[i] = metrics.AUC(yv, proba)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, fmt.Errorf("cross-validation failed: %w", err)
	}
	mean, std := metrics.MeanStd(aucs)
	return mean, std, nil
}

// PredictProba scores every row with the trained feature columns in trained
// order. A matrix lacking one of those columns fails with ErrSchemaMismatch.
func (m *Model) PredictProba(matrix *features.Matrix) ([]float64, error) {
	if !m.Trained() {
		return nil, e.ErrModelNotTrained
	}
	x, err := matrix.Select(m.meta.FeatureColumns)
	if err != nil {
		return nil, err
	}
	return m.clf.PredictProba(x)
}

// RankByGroup scores the matrix and returns entries ordered by descending
// priority score. groupFilter keeps rows whose group contains it,
// case-insensitively; topK <= 0 keeps every row.
func (m *Model) RankByGroup(matrix *features.Matrix, groupFilter string, topK int) ([]models.RankedEntry, error) {
	proba, err := m.PredictProba(matrix)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(proba))
	for i, p := range proba {
		scores[i] = math.Round(p * 100)
	}
	return Rank(matrix, scores, groupFilter, topK), nil
}

// Rank orders matrix rows by scores and applies the group filter and topK
// truncation. Ties keep row order. Ranks are 1-based and contiguous.
func Rank(matrix *features.Matrix, scores []float64, groupFilter string, topK int) []models.RankedEntry {
	filter := strings.ToLower(strings.TrimSpace(groupFilter))
	rows := make([]int, 0, matrix.Len())
	for i := 0; i < matrix.Len(); i++ {
		if filter == "" || strings.Contains(strings.ToLower(matrix.Info(i).Group), filter) {
			rows = append(rows, i)
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return scores[rows[a]] > scores[rows[b]]
	})
	if topK > 0 && len(rows) > topK {
		rows = rows[:topK]
	}

	out := make([]models.RankedEntry, len(rows))
	for pos, i := range rows {
		info := matrix.Info(i)
		out[pos] = models.RankedEntry{
			Rank:          pos + 1,
			Company:       info.Company,
			Group:         info.Group,
			Location:      info.Location,
			EquipmentAge:  info.Age,
			PriorityScore: scores[i],
		}
	}
	return out
}

// PerGroupMetrics evaluates precision@k and NDCG@k inside every group with at
// least two rows, sorted by group name.
func (m *Model) PerGroupMetrics(matrix *features.Matrix, labels []int, k int) ([]models.GroupMetrics, error) {
	if len(labels) != matrix.Len() {
		return nil, fmt.Errorf("%w: %d labels for %d rows", e.ErrInvalidInput, len(labels), matrix.Len())
	}
	proba, err := m.PredictProba(matrix)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string][]int)
	for i := 0; i < matrix.Len(); i++ {
		g := matrix.Info(i).Group
		byGroup[g] = append(byGroup[g], i)
	}

	var out []models.GroupMetrics
	for _, g := range matrix.Groups() {
		rows := byGroup[g]
		if len(rows) < 2 {
			continue
		}
		p := make([]float64, len(rows))
		y := make([]int, len(rows))
		for j, i := range rows {
			p[j] = proba[i]
			y[j] = labels[i]
		}
		out = append(out, models.GroupMetrics{
			Group:        g,
			Count:        len(rows),
			Positives:    countPositive(y),
			K:            k,
			PrecisionAtK: metrics.PrecisionAtK(y, p, k),
			NDCGAtK:      metrics.NDCGAtK(y, p, k),
		})
	}
	return out, nil
}

// FeatureImportances returns normalised total split gain per trained column,
// sorted descending. An untrained model reports nil.
func (m *Model) FeatureImportances() []models.FeatureImportance {
	if !m.Trained() {
		return nil
	}
	gains := m.clf.Importances()
	out := make([]models.FeatureImportance, len(m.meta.FeatureColumns))
	for i, c := range m.meta.FeatureColumns {
		out[i] = models.FeatureImportance{Feature: c}
		if i < len(gains) {
			out[i].Importance = gains[i]
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Importance > out[b].Importance
	})
	return out
}

func take(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for k, i := range idx {
		xs[k] = x[i]
		ys[k] = y[i]
	}
	return xs, ys
}

func countPositive(y []int) int {
	n := 0
	for _, v := range y {
		if v > 0 {
			n++
		}
	}
	return n
}
