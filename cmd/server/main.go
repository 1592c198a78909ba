package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/chatterhq/chatter/internal/adapters/http"
	"github.com/chatterhq/chatter/internal/broadcast"
	"github.com/chatterhq/chatter/internal/config"
	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/gateway"
	"github.com/chatterhq/chatter/internal/identity"
	"github.com/chatterhq/chatter/internal/storage"
	"github.com/chatterhq/chatter/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	repo, err := storage.OpenSQLite(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	var (
		pub core.Publisher
		sub core.Subscriber
	)
	if cfg.RedisAddr != "" {
		rb, err := broadcast.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect broadcaster")
		}
		defer rb.Close()
		pub, sub = rb, rb
		log.Info().Str("addr", cfg.RedisAddr).Msg("cross-node broadcasting enabled")
	} else {
		nb := broadcast.NewNoop()
		pub, sub = nb, nb
	}

	writer := storage.NewAsyncWriter(repo)
	defer writer.Close()

	registry := core.NewRegistry(repo, pub, sub, writer, cfg.BacklogCap, cfg.DrainGrace)
	membership := store.New(repo)
	resolver := identity.NewJWT(cfg.Secret)

	gw := gateway.New(membership, registry, resolver, gateway.Options{
		ReadLimit:       cfg.ReadLimit,
		PingPeriod:      cfg.PingPeriod,
		SendBufferSize:  cfg.SendBufferSize,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	handlers := &router.Handlers{Store: membership, Registry: registry, Resolver: resolver}

	r := router.SetupRouter(ctx, cfg, handlers, gw)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Chatter server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
