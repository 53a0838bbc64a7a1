// Command server wires the Session Hub, matchmaking queue, hot store,
// and archiver together and serves the WebSocket game protocol plus a
// companion HTTP health endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banchess/server/internal/archive"
	"github.com/banchess/server/internal/auth"
	"github.com/banchess/server/internal/config"
	"github.com/banchess/server/internal/db"
	"github.com/banchess/server/internal/hub"
	"github.com/banchess/server/internal/matchmaking"
	"github.com/banchess/server/internal/middleware"
	"github.com/banchess/server/internal/store"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	log := slog.Default()
	cfg := config.Load()
	log.Info("starting banchess server", "environment", cfg.Environment)

	ctx := context.Background()

	st, err := store.Connect(ctx, cfg.StoreURL)
	if err != nil {
		log.Error("failed to connect to the hot store", "err", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st.Close(ctx)
	}()

	bus := store.NewBus(st, log)
	st.AttachBus(bus)

	pool, err := db.Connect(ctx, cfg.DBURL)
	if err != nil {
		log.Error("failed to connect to the archival store", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	arch := archive.New(pool, log)
	arch.Start()
	defer arch.Stop()

	validator := auth.NewSessionValidator(cfg.SessionSecret)
	origins := middleware.NewOriginChecker(cfg.AllowedOrigins)

	h := hub.New(hub.Config{
		Store:     st,
		Bus:       bus,
		Validator: validator,
		Origins:   origins,
		Archiver:  arch,
		Log:       log,
	})

	queue := matchmaking.New(st, h, h, log)
	h.SetQueue(queue)

	h.Start(ctx)
	queue.Start()
	defer queue.Stop()

	rateLimiter := middleware.NewRateLimiter()
	defer rateLimiter.Stop()

	router := mux.NewRouter()
	router.Handle("/ws", rateLimiter.RateLimitHandler(
		middleware.WebSocketUpgradeLimit,
		middleware.GetClientIP,
		h.ServeWS,
	))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.SecurityHeaders(corsHandler.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", rateLimiter.RateLimitHandler(
		middleware.HealthCheckLimit,
		middleware.GetClientIP,
		func(w http.ResponseWriter, r *http.Request) {
			connections, activeGames := h.Stats()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"status":      "ok",
				"connections": connections,
				"activeGames": activeGames,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			})
		},
	))
	healthAddr := fmt.Sprintf(":%d", cfg.HealthPort)
	healthServer := &http.Server{Addr: healthAddr, Handler: healthMux}

	go func() {
		log.Info("game server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("game server error", "err", err)
		}
	}()
	go func() {
		log.Info("health server listening", "addr", healthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.CloseAll("server shutting down")
	server.Shutdown(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)
	if err := arch.Drain(shutdownCtx); err != nil {
		log.Warn("archiver drain incomplete", "err", err)
	}

	log.Info("server stopped")
}
