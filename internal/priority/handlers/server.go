// Package handlers provides gRPC and HTTP server implementations for
// serving the RankingService, bridging the transport layer and the ranking
// controller, translating between Struct messages and domain models.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gartstein/priority/internal/priority/auth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server holds references to both a gRPC server and an HTTP server.
type Server struct {
	grpcServer   *grpc.Server
	httpServer   *http.Server
	logger       *zap.Logger
	grpcEndpoint string
	httpEndpoint string
}

// NewServer constructs a Server with separate endpoints for gRPC and HTTP.
func NewServer(
	grpcPort int,
	httpPort int,
	logger *zap.Logger,
	grpcOpts ...grpc.ServerOption,
) *Server {
	return &Server{
		grpcServer:   grpc.NewServer(grpcOpts...),
		httpServer:   &http.Server{ReadHeaderTimeout: 10 * time.Second},
		logger:       logger.Named("server"),
		grpcEndpoint: fmt.Sprintf(":%d", grpcPort),
		httpEndpoint: fmt.Sprintf(":%d", httpPort),
	}
}

// RegisterGRPCHandler registers the ranking service and its health server.
func (s *Server) RegisterGRPCHandler(h *RankingHandler) {
	s.grpcServer.RegisterService(&RankingServiceDesc, h)
	healthpb.RegisterHealthServer(s.grpcServer, h.Health())
}

// RegisterHTTPHandlers mounts the REST routes behind the auth middleware.
func (s *Server) RegisterHTTPHandlers(h *RankingHandler, jwtSecret string) error {
	mux, err := NewHTTPMux(h)
	if err != nil {
		return err
	}

	s.httpServer.Handler = auth.HTTPMiddleware(mux, jwtSecret)
	s.httpServer.Addr = s.httpEndpoint
	return nil
}

// Start runs the gRPC and HTTP servers concurrently. A failure of either
// server stops the other, and the first error is returned.
func (s *Server) Start() error {
	var g errgroup.Group

	g.Go(func() error {
		s.logger.Info("Starting gRPC server", zap.String("endpoint", s.grpcEndpoint))
		lis, err := net.Listen("tcp", s.grpcEndpoint)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("gRPC listen error: %w", err)
		}
		if err := s.grpcServer.Serve(lis); err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("gRPC serve error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("endpoint", s.httpEndpoint))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.grpcServer.Stop()
			return fmt.Errorf("HTTP serve error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully shuts down both gRPC and HTTP servers.
func (s *Server) Stop() {
	s.logger.Info("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpcServer.GracefulStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	s.logger.Info("Servers stopped")
}
