package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Stage/internal/adapters/http"
	"github.com/dkeye/Stage/internal/adapters/redisbus"
	syncws "github.com/dkeye/Stage/internal/adapters/signal"
	"github.com/dkeye/Stage/internal/adapters/store/memory"
	"github.com/dkeye/Stage/internal/adapters/store/postgres"
	"github.com/dkeye/Stage/internal/adapters/store/redisstore"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/token"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	var rdb *redis.Client
	redisClient := func() *redis.Client {
		if rdb == nil {
			c, err := redisstore.Connect(ctx, cfg.Store.Redis)
			if err != nil {
				log.Fatal().Err(err).Msg("redis unavailable")
			}
			rdb = c
		}
		return rdb
	}

	var store core.SeatStore
	switch cfg.Store.Driver {
	case "memory", "":
		store = memory.New()
	case "redis":
		store = redisstore.New(redisClient(), cfg.Store.Redis.KeyPrefix)
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable")
		}
		if cfg.Store.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("migrate seat schema")
			}
		}
		store = pg
	default:
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("unknown store driver")
	}
	defer store.Close()

	// the redis seat store owns the shared client and closes it
	defer func() {
		if rdb != nil && cfg.Store.Driver != "redis" {
			_ = rdb.Close()
		}
	}()

	hub := realtime.NewHub(realtime.KickPolicy{})
	if cfg.Bus.Driver == "redis" {
		bus := redisbus.New(redisClient(), cfg.Bus.Channel, hub)
		if err := bus.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("sync relay")
		}
		defer bus.Close()
		hub.SetRelay(bus)
	}

	seatSvc := seats.NewService(store, hub,
		seats.RolePolicy{Roles: cfg.Seats.PrivilegedRoles},
		seats.NewRateLimiter(cfg.Seats.ClaimLimit, cfg.Seats.ClaimInterval))

	gateway := syncws.NewGateway(hub,
		seats.NewRateLimiter(cfg.Sync.ControlLimit, cfg.Sync.ControlInterval),
		syncws.Options{
			ReadLimit:  cfg.Sync.ReadLimit,
			PingPeriod: cfg.Sync.PingPeriod,
			SendBuffer: cfg.Sync.SendBuffer,
			Privileged: cfg.Seats.PrivilegedRoles,
		})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Seats:    seatSvc,
		Issuer:   token.NewIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL),
		Verifier: token.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer),
		Gateway:  gateway,
		Hub:      hub,
		MediaURL: cfg.LiveKit.URL,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Str("bus", cfg.Bus.Driver).Msg("Stage server started")
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

func setupLogger(cfg config.Log) {
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}
