package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewHTTPMux registers the REST routes on a gateway ServeMux. Every route
// dispatches to the same RankingHandler methods the gRPC server uses.
func NewHTTPMux(h *RankingHandler) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		call    func(ctx context.Context, r *http.Request, params map[string]string) (proto.Message, error)
	}{
		{http.MethodGet, "/v1/rankings", func(ctx context.Context, r *http.Request, _ map[string]string) (proto.Message, error) {
			req, err := rankingRequestFromQuery(r)
			if err != nil {
				return nil, err
			}
			return h.GetRankedList(ctx, req)
		}},
		{http.MethodGet, "/v1/scores/{company}", func(ctx context.Context, r *http.Request, params map[string]string) (proto.Message, error) {
			req, err := structpb.NewStruct(map[string]any{
				"company": params["company"],
				"group":   r.URL.Query().Get("group"),
			})
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			return h.ScoreSingle(ctx, req)
		}},
		{http.MethodGet, "/v1/model", func(context.Context, *http.Request, map[string]string) (proto.Message, error) {
			return h.modelStatus()
		}},
		{http.MethodGet, "/v1/model/importances", func(context.Context, *http.Request, map[string]string) (proto.Message, error) {
			return h.importances()
		}},
		{http.MethodGet, "/v1/groups", func(ctx context.Context, _ *http.Request, _ map[string]string) (proto.Message, error) {
			return h.groups(ctx)
		}},
		{http.MethodPost, "/v1/cache/clear", func(ctx context.Context, _ *http.Request, _ map[string]string) (proto.Message, error) {
			return h.ClearCache(ctx, &structpb.Struct{})
		}},
		{http.MethodPost, "/v1/model/reload", func(ctx context.Context, _ *http.Request, _ map[string]string) (proto.Message, error) {
			return h.ReloadModel(ctx, &structpb.Struct{})
		}},
	}

	for _, route := range routes {
		call := route.call
		err := mux.HandlePath(route.method, route.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			_, outbound := runtime.MarshalerForRequest(mux, r)
			msg, err := call(r.Context(), r, params)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
				return
			}
			buf, err := outbound.Marshal(msg)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.Internal, err.Error()))
				return
			}
			w.Header().Set("Content-Type", outbound.ContentType(msg))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(buf)
		})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// rankingRequestFromQuery maps group, top_k and heuristic query parameters
// onto the GetRankedList request.
func rankingRequestFromQuery(r *http.Request) (*structpb.Struct, error) {
	query := r.URL.Query()
	fields := map[string]any{"group": query.Get("group")}

	if raw := query.Get("top_k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid top_k %q", raw)
		}
		fields["top_k"] = k
	}
	if raw := query.Get("heuristic"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid heuristic %q", raw)
		}
		fields["heuristic"] = b
	}

	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return req, nil
}
