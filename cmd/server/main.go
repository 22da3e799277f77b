package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beadboard/internal/api"
	"beadboard/internal/config"
	"beadboard/internal/repository"
	"beadboard/internal/services/sync"
	"beadboard/internal/telemetry"
	"beadboard/internal/watcher"
)

/*
LEARNING: WIRING A PUSH-BASED SYNC SERVER

Startup order matters here:
1. Tracing first, so everything after it is traced.
2. The bd-backed repository (the only door to the record store).
3. The watcher, so no out-of-band write goes unnoticed.
4. The hub, which consumes watcher signals and owns all viewers.
5. The HTTP server last, once everything it fronts is live.

Shutdown runs in reverse so in-flight refreshes drain before the
watcher and hub disappear underneath them.
*/

func main() {
	log.Println("🚀 Starting beadboard sync server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing
	jaegerShutdown, err := telemetry.InitJaeger("beadboard", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// The bd CLI is the only access path to the record store
	repo := repository.NewBDRepository(cfg.BDBinary, cfg.WorkspaceDir)
	log.Printf("✓ bd repository initialized (binary: %s, workspace: %s)", cfg.BDBinary, cfg.WorkspaceDir)

	// Watch the workspace for out-of-band writes
	w := watcher.New(cfg.WorkspaceDir, cfg.PollInterval)
	w.Start(context.Background())
	defer w.Stop()
	log.Printf("✓ Workspace watcher started on %s", cfg.WorkspaceDir)

	// The hub owns the subscription registry and the refresh scheduler
	hub := sync.NewHub(repo, cfg.DebounceWindow, cfg.GateTimeout)
	hub.Start()
	hub.ConsumeSignals(w.Events())

	wsHandler := sync.NewWebSocketHandler(hub)

	// Handlers + routes
	handler := api.NewHandler(repo, hub, wsHandler, w)
	router := api.SetupRoutes(handler)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", cfg.Addr())
		log.Printf("📚 Endpoints:")
		log.Printf("   GET    /api/issues            - One-shot issue list")
		log.Printf("   POST   /api/issues            - Create issue (via bd)")
		log.Printf("   PATCH  /api/issues/:id        - Update issue (via bd)")
		log.Printf("   POST   /api/issues/:id/close  - Close issue (via bd)")
		log.Printf("   POST   /api/workspace         - Switch workspace")
		log.Printf("   WS     /ws/sync               - Live subscription sync")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
}
