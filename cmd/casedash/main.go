// casedash serves the Human Decision API, the inbound mail webhook,
// and the dashboard WebSocket feed — the three HTTP surfaces a human
// reviewer or an inbound mail provider talks to.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/api"
	"github.com/smilemakc/caseorch/internal/config"
	"github.com/smilemakc/caseorch/internal/queue"
	"github.com/smilemakc/caseorch/internal/realtime"
	"github.com/smilemakc/caseorch/internal/store"
	"github.com/smilemakc/caseorch/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.Setup(cfg.LogLevel)

	db := store.New(cfg.DatabaseDSN)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("casedash: database unreachable")
	}

	// casedash only enqueues jobs for caseworker to drain; it never
	// drives the case graph itself, so an in-process queue wired with
	// no buffer overflow here is fine as long as the two processes
	// share the same backing queue in a durable deployment.
	q := queue.NewInMemoryQueue(256)

	auth := apiAuthenticator(cfg)
	hub := realtime.NewHub(logger)
	go hub.Run()

	server := api.NewServer(db, q, auth, logger)
	wsHandler := realtime.NewHandler(hub, realtimeAuthenticator(cfg), logger)

	mux := http.NewServeMux()
	mux.Handle("/ws/dashboard", wsHandler)
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("casedash: starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("casedash: server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("casedash: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("casedash: graceful shutdown failed")
	}
}

// apiAuthenticator picks the bearer-JWT authenticator for the human
// decision API when a signing key is configured, falling back to
// OpenAuth for local development.
func apiAuthenticator(cfg *config.Config) api.Authenticator {
	if cfg.JWTSigningKey == "" {
		log.Warn().Msg("casedash: JWT_SIGNING_KEY not set, allowing every request through")
		return api.OpenAuth{}
	}
	return api.NewBearerAuth(cfg.JWTSigningKey)
}

func realtimeAuthenticator(cfg *config.Config) realtime.Authenticator {
	if cfg.JWTSigningKey == "" {
		return realtime.NewNoAuth()
	}
	return realtime.NewJWTAuth(cfg.JWTSigningKey)
}
