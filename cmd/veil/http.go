package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"veil/internal/auth"
	"veil/internal/config"
	"veil/internal/pipeline"
	"veil/internal/source"
	"veil/internal/store"
	"veil/internal/ws"
)

// server exposes the control API and the detection WebSocket.
type server struct {
	cfg       *config.Config
	auth      *auth.Authenticator
	pipe      *pipeline.Pipeline
	scheduler *pipeline.Scheduler
	src       *source.FFmpegSource
	hub       *ws.Hub
	store     *store.Store
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/stats", s.auth.Middleware(s.handleStats))
	mux.HandleFunc("/api/config", s.auth.Middleware(s.handleConfig))
	mux.HandleFunc("/api/runs", s.auth.Middleware(s.handleRuns))
	mux.Handle("/ws/detections", ws.NewHandler(s.hub))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"degraded": s.pipe.Degraded(),
		"capture":  s.src.IsRunning(),
	})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token, expiresAt, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		log.Printf("[API] Login failed for %q: %v", req.Username, err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	srcStats := s.src.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": s.scheduler.Stats(),
		"source": map[string]uint64{
			"captured":  srcStats.Captured,
			"forwarded": srcStats.Forwarded,
			"dropped":   srcStats.Dropped,
		},
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Config())
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(20)
	if err != nil {
		log.Printf("[API] Error listing runs: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}
