package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"veil/internal/auth"
	"veil/internal/config"
	"veil/internal/inference"
	"veil/internal/pipeline"
	"veil/internal/source"
	"veil/internal/store"
	"veil/internal/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("")

	if err := godotenv.Load(); err == nil {
		log.Println("[Main] Loaded configuration from .env")
	}

	cfg := config.Load()
	log.Printf("[Main] Starting veil (device: %s, engine: %s)", cfg.Device, cfg.EngineEndpoint)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("[Main] Failed to open store: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatalf("[Main] Failed to migrate store: %v", err)
	}

	cfgJSON, _ := json.Marshal(cfg.Pipeline())
	runID, err := st.BeginRun(string(cfgJSON))
	if err != nil {
		log.Fatalf("[Main] Failed to record run: %v", err)
	}
	log.Printf("[Main] Run %s started", runID)

	engine := inference.NewHTTPEngine(cfg.EngineEndpoint)
	defer engine.Close()
	if !engine.IsHealthy() {
		log.Printf("[Main] Inference service at %s is not responding yet", cfg.EngineEndpoint)
	}

	pipe, err := pipeline.NewPipeline(engine, cfg.Pipeline())
	if err != nil {
		log.Fatalf("[Main] Failed to build pipeline: %v", err)
	}
	if pipe.Degraded() {
		log.Println("[Main] Pipeline running degraded: frames pass through with no detections")
	}

	bus := pipeline.NewBus()
	scheduler := pipeline.NewScheduler(pipe, bus, cfg.Pipeline().MinProcessInterval)

	hub := ws.NewHub()
	unsubscribe := bus.Subscribe(hub)
	defer unsubscribe()

	src := source.New(cfg.Device, cfg.FPS, cfg.Width, cfg.Height, scheduler)
	if err := src.Start(); err != nil {
		log.Fatalf("[Main] Failed to start capture: %v", err)
	}

	authenticator, err := auth.New(cfg.AuthEnabled, cfg.AuthUsername, cfg.AuthPassword, cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		log.Fatalf("[Main] Failed to configure auth: %v", err)
	}

	srv := &server{
		cfg:       cfg,
		auth:      authenticator,
		pipe:      pipe,
		scheduler: scheduler,
		src:       src,
		hub:       hub,
		store:     st,
	}
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
	}
	go func() {
		log.Printf("[Main] HTTP server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[Main] Received %v, shutting down", sig)

	src.Stop()
	scheduler.Close()
	hub.Close()
	bus.Close()

	if err := st.FinishRun(runID, scheduler.Stats()); err != nil {
		log.Printf("[Main] Error recording run end: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] HTTP shutdown error: %v", err)
	}

	log.Println("[Main] Shutdown complete")
}
