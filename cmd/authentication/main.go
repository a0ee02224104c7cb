// This is a **mock authentication service**, designed to provide JWT tokens
// for the ranking service, simulating operator authentication.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gartstein/priority/internal/priority/auth"
	"github.com/gartstein/priority/internal/priority/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// TokenResponse represents the response structure
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func tokenHandler(secret string, ttl time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Simulate an operator id for the token
		subject := r.URL.Query().Get("subject")
		if subject == "" {
			subject = "operator"
		}

		token, err := auth.GenerateToken(subject, secret, ttl)
		if err != nil {
			logger.Error("failed to generate token", zap.Error(err))
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		resp := TokenResponse{Token: token, ExpiresIn: int64(ttl.Seconds())}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode token", zap.Error(err))
		}
	}
}

func main() {
	configPath := pflag.String("config", config.DefaultPath, "path to the YAML config file")
	ttl := pflag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	pflag.Parse()

	logger, _ := zap.NewProduction()
	logger = logger.Named("authentication")
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/token", tokenHandler(cfg.JWTSecret, *ttl, logger))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AuthPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Authentication service running", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("authentication service failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
