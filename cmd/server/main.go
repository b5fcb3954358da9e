// Package main runs the ERP client backend: local REST API, durable
// offline store, and the background sync engine.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jjperez22/the-ERP-sub000/cmd/server/handlers"
	"github.com/jjperez22/the-ERP-sub000/internal/config"
	"github.com/jjperez22/the-ERP-sub000/internal/db"
	"github.com/jjperez22/the-ERP-sub000/internal/events"
	"github.com/jjperez22/the-ERP-sub000/internal/logging"
	"github.com/jjperez22/the-ERP-sub000/internal/store"
	syncpkg "github.com/jjperez22/the-ERP-sub000/internal/sync"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/monitor"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/queue"
	"github.com/jjperez22/the-ERP-sub000/internal/sync/remote"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)
	cfg := config.Load()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open database", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		logging.Error("failed to migrate database", err)
		os.Exit(1)
	}

	notifier := events.NewNotifier()

	localStore := store.New(store.NewSQLiteBackend(database.DB), func(reason string) {
		notifier.Publish(events.EventStoreDegraded, map[string]interface{}{"reason": reason})
	})

	syncQueue := queue.NewSyncQueue(database.DB, cfg.QueueMaxSize)
	syncQueue.SetMaxAttempts(cfg.MaxAttempts)
	if err := syncQueue.Load(); err != nil {
		logging.Error("failed to load sync queue", err)
		os.Exit(1)
	}

	endpoint := remote.NewClient(cfg.RemoteBaseURL, &http.Client{})

	orch := syncpkg.NewOrchestrator(localStore, syncQueue, endpoint, notifier, database.DB, syncpkg.Config{
		BatchSize:       cfg.BatchSize,
		DispatchTimeout: cfg.DispatchTimeout,
		InterBatchDelay: cfg.InterBatchDelay,
		BackoffCap:      cfg.BackoffCap,
		TwoWayReconcile: true,
	})

	mon := monitor.New(orch, syncQueue, monitor.Config{
		Interval: cfg.SyncInterval,
		Probe:    probeRemote(cfg.RemoteBaseURL),
	})

	wsHub := NewWSHub()
	wsHub.BindNotifier(notifier)

	// Event log for operators; UI gets the same stream over /ws.
	notifier.SubscribeTo(events.EventSyncFailed, func(e events.Event) {
		logging.Warn("sync action failed", e.Data)
	})
	notifier.SubscribeTo(events.EventSyncCompleted, func(e events.Event) {
		logging.Info("sync pass completed", e.Data)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon.Start(ctx)

	// Queue survived the restart; if the remote is reachable, run a
	// pass right away instead of waiting for the first tick.
	go func() {
		probe := probeRemote(cfg.RemoteBaseURL)
		mon.SetOnline(ctx, probe(ctx))
		if mon.IsOnline() && syncQueue.HasEligible() {
			orch.RequestSync(ctx)
		}
	}()

	entityHandler := handlers.NewEntityHandler(localStore, syncQueue)
	syncHandler := handlers.NewSyncHandler(localStore, syncQueue, orch, mon)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"erp-backend"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/sync/status", syncHandler.HandleStatus)
		r.Get("/sync/queue", syncHandler.HandleQueue)
		r.Delete("/sync/queue/{id}", syncHandler.HandleDiscard)
		r.Post("/sync/trigger", syncHandler.HandleTrigger)
		r.Put("/sync/online", syncHandler.HandleOnline)

		r.Get("/{store}/search", entityHandler.HandleSearch)
		r.Get("/{store}", entityHandler.HandleList)
		r.Post("/{store}", entityHandler.HandleCreate)
		r.Get("/{store}/{id}", entityHandler.HandleGet)
		r.Put("/{store}/{id}", entityHandler.HandleUpdate)
		r.Delete("/{store}/{id}", entityHandler.HandleDelete)
	})

	r.Get("/ws", HandleWebSocket(wsHub))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logging.Info("server starting",
			map[string]interface{}{"port": cfg.Port, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logging.Info("shutting down")
	mon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server shutdown failed", err)
	}
}

// probeRemote reports whether the remote sync endpoint is reachable.
func probeRemote(baseURL string) monitor.ProbeFunc {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < 500
	}
}
