package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/voltmon/energy-usage-worker/internal/usagequery"
	"go.uber.org/zap"
)

const defaultQueryDays = 7

// Server exposes the usage-query surface over HTTP.
type Server struct {
	httpServer *http.Server
	usage      *usagequery.Service
	logger     *zap.Logger
}

// NewServer creates the HTTP server for the usage-query surface.
func NewServer(port int, usage *usagequery.Service, logger *zap.Logger) *Server {
	s := &Server{
		usage:  usage,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /users/{userId}/usage", s.handleUsage)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http api listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http api server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	days := defaultQueryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid days"})
			return
		}
	}

	total, err := s.usage.UsageForUser(r.Context(), userID, days)
	if err != nil {
		s.logger.Error("usage query failed", zap.Error(err), zap.Int64("user_id", userID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "usage query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":   userID,
		"days":     days,
		"totalKwh": total,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
