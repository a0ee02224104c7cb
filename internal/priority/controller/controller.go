// Package controller implements the ranking service: the façade that loads
// the persisted model, memoises the feature matrix and answers ranking and
// scoring queries, falling back to a deterministic heuristic whenever the
// model is missing or fails.
package controller

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/gartstein/priority/internal/priority/identity"
	"github.com/gartstein/priority/internal/priority/models"
	"github.com/gartstein/priority/internal/priority/ranker"
	"go.uber.org/zap"
)

// NeutralScore is returned by ScoreSingle when no ranked company matches.
const NeutralScore = 50.0

// State is the lifecycle state of the service.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateModelLoaded   State = "model_loaded"
	StateHeuristicOnly State = "heuristic_only"
)

// RecordSource supplies the canonical records to rank.
type RecordSource interface {
	LoadRecords(ctx context.Context) (models.RecordSet, error)
}

// RankedListCache stores ranked lists between record or model changes.
type RankedListCache interface {
	Get(ctx context.Context, key string) (models.RankedList, bool)
	Set(ctx context.Context, key string, list models.RankedList)
	Invalidate(ctx context.Context) error
}

// Config holds the service settings.
type Config struct {
	ModelPath        string
	HeuristicFormula string
	Features         features.Config
}

// RankQuery selects and truncates a ranked list.
type RankQuery struct {
	GroupFilter    string
	TopK           int
	ForceHeuristic bool
}

// cacheKey addresses a ranked list by the scorer that produced it, so a list
// ranked by one model is never served for another model or the heuristic.
func (q RankQuery) cacheKey(scorer string) string {
	return fmt.Sprintf("%s|%s|%d", scorer, strings.ToLower(strings.TrimSpace(q.GroupFilter)), q.TopK)
}

// scorerKey names the scorer of a ranking pass. Heuristic lists computed
// with a model loaded use its persisted extraction and are keyed apart.
func scorerKey(model *ranker.Model, useModel bool) string {
	switch {
	case model == nil:
		return "heuristic"
	case useModel:
		return "model:" + model.Metadata().RunID
	default:
		return "heuristic:" + model.Metadata().RunID
	}
}

// ServiceStatus is a snapshot of the service state.
type ServiceStatus struct {
	State          State                 `json:"state"`
	ModelAvailable bool                  `json:"model_available"`
	Discriminative bool                  `json:"discriminative"`
	Metadata       *models.ModelMetadata `json:"metadata,omitempty"`
}

// Option configures a RankingService.
type Option func(*RankingService)

// WithCache attaches a ranked-list cache.
func WithCache(c RankedListCache) Option {
	return func(s *RankingService) { s.cache = c }
}

// RankingService answers ranking queries. It is safe for concurrent use.
type RankingService struct {
	cfg       Config
	source    RecordSource
	logger    *zap.Logger
	extractor *features.Extractor
	heuristic *Heuristic
	cache     RankedListCache

	mu    sync.Mutex
	state State
	model *ranker.Model

	matrixMu    sync.Mutex
	matrix      *features.Matrix
	matrixModel *ranker.Model // model whose extraction options built matrix

	// epoch counts ClearCache calls. Lists computed before a clear are not stored.
	epoch   atomic.Uint64
	storeMu sync.RWMutex
}

// NewRankingService constructs a RankingService. The model is loaded lazily
// on first use. An invalid heuristic formula is rejected.
func NewRankingService(cfg Config, source RecordSource, logger *zap.Logger, opts ...Option) (*RankingService, error) {
	h, err := NewHeuristic(cfg.HeuristicFormula)
	if err != nil {
		return nil, err
	}
	s := &RankingService{
		cfg:       cfg,
		source:    source,
		logger:    logger.Named("ranking_service"),
		extractor: features.NewExtractor(cfg.Features, logger),
		heuristic: h,
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IsModelAvailable reports whether a model artifact exists at the configured path.
func (s *RankingService) IsModelAvailable() bool {
	if s.cfg.ModelPath == "" {
		return false
	}
	fi, err := os.Stat(s.cfg.ModelPath)
	return err == nil && !fi.IsDir()
}

// LoadModel loads the artifact. Any failure is logged and leaves the service
// in heuristic-only mode; it never returns an error.
func (s *RankingService) LoadModel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// ReloadModel reloads the artifact and drops every cached result. It is the
// only way back to model-backed ranking after a fallback.
func (s *RankingService) ReloadModel() bool {
	s.mu.Lock()
	ok := s.loadLocked()
	s.mu.Unlock()

	s.ClearCache()
	return ok
}

func (s *RankingService) loadLocked() bool {
	s.model = nil
	s.state = StateHeuristicOnly

	if !s.IsModelAvailable() {
		s.logger.Warn("model artifact not found, using heuristic ranking",
			zap.String("model_path", s.cfg.ModelPath),
		)
		return false
	}
	m, err := ranker.Load(s.cfg.ModelPath, s.logger)
	if err != nil {
		s.logger.Warn("failed to load model, using heuristic ranking",
			zap.String("model_path", s.cfg.ModelPath),
			zap.Error(err),
		)
		return false
	}

	s.model = m
	s.state = StateModelLoaded
	if !m.Metadata().Metrics.Discriminative() {
		s.logger.Warn("loaded model is not discriminative, retraining with labelled data is advised",
			zap.String("run_id", m.Metadata().RunID),
		)
	}
	return true
}

// currentModel returns the loaded model, loading it on first use.
func (s *RankingService) currentModel() *ranker.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized {
		s.loadLocked()
	}
	return s.model
}

// degrade switches to heuristic-only mode unless a reload already replaced
// the failed model.
func (s *RankingService) degrade(ctx context.Context, failed *ranker.Model) {
	s.mu.Lock()
	if s.model == failed {
		s.model = nil
		s.state = StateHeuristicOnly
	}
	s.mu.Unlock()
	s.invalidate(ctx)
}

// GetRankedList ranks the current records. It never fails: when the model
// is unavailable or scoring fails the heuristic ranks instead, and when the
// records cannot be read the list is empty.
func (s *RankingService) GetRankedList(ctx context.Context, q RankQuery) models.RankedList {
	model := s.currentModel()
	useModel := model != nil && !q.ForceHeuristic

	key := q.cacheKey(scorerKey(model, useModel))
	if s.cache != nil {
		if list, ok := s.cache.Get(ctx, key); ok {
			return list
		}
	}

	matrix, epoch, err := s.features(ctx, model)
	if err != nil {
		s.logger.Warn("feature extraction failed, returning empty ranking", zap.Error(err))
		return models.RankedList{Entries: []models.RankedEntry{}, Source: models.SourceHeuristic}
	}

	if useModel {
		entries, err := model.RankByGroup(matrix, q.GroupFilter, q.TopK)
		if err == nil {
			list := models.RankedList{Entries: entries, Source: models.SourceModel}
			s.store(ctx, key, list, epoch)
			return list
		}
		s.logger.Warn("model scoring failed, falling back to heuristic ranking", zap.Error(err))
		s.degrade(ctx, model)
		key = q.cacheKey(scorerKey(model, false))
	}

	scores, err := s.heuristic.Score(matrix)
	if err != nil {
		s.logger.Error("heuristic scoring failed", zap.Error(err))
		return models.RankedList{Entries: []models.RankedEntry{}, Source: models.SourceHeuristic}
	}
	list := models.RankedList{
		Entries: ranker.Rank(matrix, scores, q.GroupFilter, q.TopK),
		Source:  models.SourceHeuristic,
	}
	s.store(ctx, key, list, epoch)
	return list
}

// ScoreSingle returns the score of the best ranked row whose normalized
// company contains the normalized name, so case, punctuation and legal
// suffixes do not matter. Unknown or blank names score NeutralScore.
func (s *RankingService) ScoreSingle(ctx context.Context, name, groupFilter string) (float64, models.Source) {
	needle := identity.Normalize(name)
	if needle == "" {
		return NeutralScore, models.SourceHeuristic
	}
	list := s.GetRankedList(ctx, RankQuery{GroupFilter: groupFilter})
	for _, entry := range list.Entries {
		if strings.Contains(identity.Normalize(entry.Company), needle) {
			return entry.PriorityScore, list.Source
		}
	}
	return NeutralScore, models.SourceHeuristic
}

// ClearCache drops the memoised matrix and every cached ranked list. Lists
// still being computed from the dropped matrix are not cached.
func (s *RankingService) ClearCache() {
	s.storeMu.Lock()
	s.matrixMu.Lock()
	s.matrix = nil
	s.matrixModel = nil
	s.epoch.Add(1)
	s.matrixMu.Unlock()
	s.storeMu.Unlock()

	s.invalidate(context.Background())
	s.logger.Info("cache cleared")
}

// GetFeatureImportance returns the importances of the loaded model.
func (s *RankingService) GetFeatureImportance() ([]models.FeatureImportance, bool) {
	m := s.currentModel()
	if m == nil {
		return nil, false
	}
	return m.FeatureImportances(), true
}

// GetModelMetadata returns the metadata of the loaded model.
func (s *RankingService) GetModelMetadata() (*models.ModelMetadata, bool) {
	m := s.currentModel()
	if m == nil {
		return nil, false
	}
	return m.Metadata(), true
}

// GetGroups returns the sorted distinct equipment groups of the records.
func (s *RankingService) GetGroups(ctx context.Context) []string {
	matrix, _, err := s.features(ctx, s.currentModel())
	if err != nil {
		s.logger.Warn("feature extraction failed, no groups available", zap.Error(err))
		return nil
	}
	return matrix.Groups()
}

// Status reports the lifecycle state without triggering a load.
func (s *RankingService) Status() ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ServiceStatus{State: s.state, ModelAvailable: s.IsModelAvailable()}
	if s.model != nil {
		st.Metadata = s.model.Metadata()
		st.Discriminative = st.Metadata.Metrics.Discriminative()
	}
	return st
}

// features returns the memoised matrix for model together with the cache
// epoch it belongs to. A matrix extracted for another model, or for none, is
// rebuilt so rows always carry the codes and ages the scorer was trained on.
func (s *RankingService) features(ctx context.Context, model *ranker.Model) (*features.Matrix, uint64, error) {
	s.matrixMu.Lock()
	defer s.matrixMu.Unlock()
	epoch := s.epoch.Load()
	if s.matrix != nil && s.matrixModel == model {
		return s.matrix, epoch, nil
	}

	set, err := s.source.LoadRecords(ctx)
	if err != nil {
		return nil, epoch, fmt.Errorf("failed to load records: %w", err)
	}
	if len(set.Equipment) == 0 {
		return nil, epoch, fmt.Errorf("%w: no equipment records", e.ErrEmptyDataset)
	}
	if !set.RelationshipsAvailable {
		s.logger.Warn("relationship source unavailable, relationship features take defaults")
	}

	var opts []features.Option
	if model != nil {
		opts = model.ExtractOptions()
	}
	s.matrix = s.extractor.Extract(set, opts...)
	s.matrixModel = model
	s.logger.Debug("feature matrix built", zap.Int("rows", s.matrix.Len()))
	return s.matrix, epoch, nil
}

// store caches list unless the cache was cleared after its matrix was taken.
func (s *RankingService) store(ctx context.Context, key string, list models.RankedList, epoch uint64) {
	if s.cache == nil {
		return
	}
	s.storeMu.RLock()
	defer s.storeMu.RUnlock()
	if s.epoch.Load() != epoch {
		s.logger.Debug("discarding ranking computed before a cache clear", zap.String("key", key))
		return
	}
	s.cache.Set(ctx, key, list)
}

func (s *RankingService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate ranked-list cache", zap.Error(err))
	}
}
