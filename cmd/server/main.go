package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/portfolio-league/league-engine/internal/app"
	"github.com/portfolio-league/league-engine/internal/config"
	"github.com/portfolio-league/league-engine/internal/league"
	"github.com/portfolio-league/league-engine/internal/metrics"
	"github.com/portfolio-league/league-engine/internal/scheduler"
)

func main() {
	configPath := flag.String("config", os.Getenv("LEAGUE_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg.SetupLogging()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		a.Close()
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// --- WebSocket hub ---
	wsHub := league.NewWSHub()
	go wsHub.Run()
	defer wsHub.Close()

	// --- Rollover watcher ---
	var watcher *scheduler.Watcher
	if cfg.Scheduler.Enabled {
		var exporter scheduler.Exporter
		if a.Exporter != nil {
			exporter = a.Exporter
		}
		watcher, err = scheduler.New(a.Clock, cfg.Scheduler.Schedule, exporter, wsHub.Notify)
		if err != nil {
			slog.Error("invalid scheduler config", "err", err)
			os.Exit(1)
		}
		watcher.Start()
	}

	// --- League service ---
	svc := league.NewService(a.Ledger, a.Ranking, a.Stats, a.Clock, a.Validator,
		league.WithHub(wsHub),
		league.WithLimiter(league.NewSubmitLimiter(cfg.League.SubmitRate, cfg.League.SubmitBurst)),
		league.WithAdminToken(cfg.Server.AdminToken),
	)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.WriteTimeout.Duration))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"league-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Submissions, leaderboards, periods, stats and the WebSocket feed.
	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	port := cfg.Server.Port
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("league-engine listening", "port", port, "policy", a.Ledger.Policy())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	slog.Info("shutting down league-engine...")
	if watcher != nil {
		watcher.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("league-engine stopped")
}
