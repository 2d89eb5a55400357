package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/auth"
	"github.com/sofrahq/sofra-gateway/internal/bootstrap"
	"github.com/sofrahq/sofra-gateway/internal/bot"
	"github.com/sofrahq/sofra-gateway/internal/db"
	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/geo"
	"github.com/sofrahq/sofra-gateway/internal/httpapi"
	"github.com/sofrahq/sofra-gateway/internal/idem"
	"github.com/sofrahq/sofra-gateway/internal/merchant"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/outbound"
	"github.com/sofrahq/sofra-gateway/internal/provider"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/send"
	"github.com/sofrahq/sofra-gateway/internal/session"
	"github.com/sofrahq/sofra-gateway/internal/store"
	"github.com/sofrahq/sofra-gateway/internal/tenant"
	"github.com/sofrahq/sofra-gateway/internal/window"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "sofra-gateway").Logger()
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	pool, err := db.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	rdb, err := db.OpenRedis(ctx, env("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	// Shared infrastructure.
	bus := events.NewRedisBus(rdb)
	st := store.NewPG(pool)
	registry := tenant.NewRegistry(tenant.NewPGRepo(pool), bus)
	limiter := ratelimit.NewRedisLimiter(rdb)
	sessions := session.NewPGTracker(pool)
	keeper := window.NewKeeper(st, window.NewRedisCache(rdb))
	queue := outbound.NewRedisQueue(rdb)
	bootQueue := bootstrap.NewRedisQueue(rdb)

	// External services.
	twilio := provider.NewTwilioClient(env("TWILIO_BASE_URL", ""))
	platform := merchant.NewClient(
		env("MERCHANT_API_URL", "http://localhost:9090"),
		env("MERCHANT_API_KEY", ""),
	)
	geocoder := geo.NewClient(env("GEOCODER_URL", ""))

	sender := send.NewService(queue, keeper, send.Templates{
		Welcome: model.TemplateDescriptor{
			SID:          env("TEMPLATE_WELCOME_SID", ""),
			FriendlyName: env("TEMPLATE_WELCOME_NAME", "welcome"),
		},
		Notify: model.TemplateDescriptor{
			SID:          env("TEMPLATE_NOTIFY_SID", ""),
			FriendlyName: env("TEMPLATE_NOTIFY_NAME", "notify"),
		},
	})

	engine := bot.NewEngine(st, sender, platform, geocoder,
		platform, bootstrap.NewTrigger(bootQueue), keeper, bus)

	srv := &httpapi.Server{
		Tenants:  registry,
		Store:    st,
		Idem:     idem.NewRedisStore(rdb),
		Limiter:  limiter,
		Sessions: sessions,
		Bus:      bus,
		Sender:   sender,
		Bot:      engine,
		Flag:     bot.NewRedisFlag(rdb),
		Queue:    queue,
		JWT: auth.JWTCfg{
			HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
			DevMode:     env("AUTH_DEV_MODE", "") == "1",
		},
		Cfg: httpapi.Config{
			VerifyToken: env("WEBHOOK_VERIFY_TOKEN", ""),
			PublicURL:   env("PUBLIC_URL", ""),
		},
	}

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background workers.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		registry.WatchInvalidations(workerCtx)
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		outbound.NewWorker(queue, registry, twilio, st, limiter, bus).Run(workerCtx)
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		bootstrap.NewWorker(bootQueue, registry, platform, limiter).Run(workerCtx)
	}()

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	// Stop taking requests first, then drain the workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	stopWorkers()
	workers.Wait()

	log.Info().Msg("server stopped")
}
