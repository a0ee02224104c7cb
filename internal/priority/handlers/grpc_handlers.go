package handlers

import (
	"context"

	"github.com/gartstein/priority/internal/priority/auth"
	"github.com/gartstein/priority/internal/priority/controller"
	"github.com/gartstein/priority/internal/priority/models"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RankingController defines the business logic interface
// that the gRPC/HTTP handlers will invoke.
type RankingController interface {
	GetRankedList(ctx context.Context, q controller.RankQuery) models.RankedList
	ScoreSingle(ctx context.Context, name, groupFilter string) (float64, models.Source)
	ClearCache()
	ReloadModel() bool
	GetFeatureImportance() ([]models.FeatureImportance, bool)
	GetModelMetadata() (*models.ModelMetadata, bool)
	GetGroups(ctx context.Context) []string
	Status() controller.ServiceStatus
}

// RankingHandler provides the ranking RPCs, mapping Struct requests to a
// RankingController and mirroring the service state into the health server.
type RankingHandler struct {
	service RankingController
	health  *health.Server
	logger  *zap.Logger
}

// NewRankingHandler constructs a new RankingHandler with the given service and logger.
func NewRankingHandler(service RankingController, logger *zap.Logger) *RankingHandler {
	h := &RankingHandler{
		service: service,
		health:  health.NewServer(),
		logger:  logger.Named("grpc_handler"),
	}
	h.SyncHealth()
	return h
}

// Health returns the health server reporting the ranking service status.
func (h *RankingHandler) Health() *health.Server {
	return h.health
}

// SyncHealth reports SERVING only while a discriminative model is loaded.
func (h *RankingHandler) SyncHealth() healthpb.HealthCheckResponse_ServingStatus {
	st := h.service.Status()
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st.State == controller.StateModelLoaded && st.Discriminative {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ServiceName, serving)
	return serving
}

// GetRankedList ranks records. Request fields: group, top_k, heuristic.
func (h *RankingHandler) GetRankedList(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q, err := rankQueryFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	list := h.service.GetRankedList(ctx, q)
	h.SyncHealth()

	resp, err := rankedListToStruct(list)
	if err != nil {
		return nil, h.internalError(err)
	}
	return resp, nil
}

// ScoreSingle scores one company. Request fields: company, group.
func (h *RankingHandler) ScoreSingle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	company := stringField(req, "company")
	score, source := h.service.ScoreSingle(ctx, company, stringField(req, "group"))
	h.SyncHealth()

	resp, err := structpb.NewStruct(map[string]any{
		"company":        company,
		"priority_score": score,
		"source":         string(source),
	})
	if err != nil {
		return nil, h.internalError(err)
	}
	return resp, nil
}

// ClearCache drops the memoised features and cached rankings.
func (h *RankingHandler) ClearCache(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	h.service.ClearCache()
	h.logger.Info("Cache cleared", zap.String("subject", auth.Subject(ctx)))
	return structpb.NewStruct(map[string]any{"cleared": true})
}

// ReloadModel reloads the model artifact from disk.
func (h *RankingHandler) ReloadModel(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	loaded := h.service.ReloadModel()
	serving := h.SyncHealth()
	h.logger.Info("Model reloaded",
		zap.Bool("model_loaded", loaded),
		zap.String("health", serving.String()),
		zap.String("subject", auth.Subject(ctx)),
	)
	return structpb.NewStruct(map[string]any{
		"model_loaded": loaded,
		"state":        string(h.service.Status().State),
	})
}

// modelStatus describes the loaded model, loading it on first use.
func (h *RankingHandler) modelStatus() (*structpb.Struct, error) {
	h.service.GetModelMetadata()
	resp, err := statusToStruct(h.service.Status())
	if err != nil {
		return nil, h.internalError(err)
	}
	return resp, nil
}

func (h *RankingHandler) importances() (*structpb.Struct, error) {
	imps, ok := h.service.GetFeatureImportance()
	if !ok {
		return nil, status.Error(codes.NotFound, "no model loaded")
	}
	resp, err := importancesToStruct(imps)
	if err != nil {
		return nil, h.internalError(err)
	}
	return resp, nil
}

func (h *RankingHandler) groups(ctx context.Context) (*structpb.Struct, error) {
	groups := h.service.GetGroups(ctx)
	values := make([]any, len(groups))
	for i, g := range groups {
		values[i] = g
	}
	return structpb.NewStruct(map[string]any{"groups": values})
}

func (h *RankingHandler) internalError(err error) error {
	h.logger.Error("Internal server error", zap.Error(err))
	return status.Errorf(codes.Internal, "internal server error: %v", err)
}
