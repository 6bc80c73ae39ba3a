// Package api serves the optional HTTP status endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ChronoCap/internal/model"
)

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	PID             int    `json:"pid"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	IntervalsMerged uint64 `json:"intervals_merged"`
	PacketsMerged   uint64 `json:"packets_merged"`
	LastInterval    uint32 `json:"last_interval"`
	LastMergeMsec   int64  `json:"last_merge_msec"`
}

// Server exposes daemon status over HTTP.
type Server struct {
	srv    *http.Server
	status *model.Status
	log    *zap.SugaredLogger
}

// NewServer builds the status server on the given listen address.
func NewServer(listen string, status *model.Status, log *zap.SugaredLogger) *Server {
	s := &Server{status: status, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("status API server failed: %v", err)
		}
	}()
	s.log.Infof("status API listening on %s", s.srv.Addr)
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		PID:             os.Getpid(),
		UptimeSeconds:   s.status.UptimeSeconds(),
		IntervalsMerged: s.status.IntervalsMerged(),
		PacketsMerged:   s.status.PacketsMerged(),
		LastInterval:    s.status.LastInterval(),
		LastMergeMsec:   s.status.LastMergeMsec(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
