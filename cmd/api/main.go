package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/cart"
	"github.com/ariefcatur/go-order-placement/internal/config"
	"github.com/ariefcatur/go-order-placement/internal/httpx"
	"github.com/ariefcatur/go-order-placement/internal/invalidation"
	"github.com/ariefcatur/go-order-placement/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-placement/internal/kafka"
	"github.com/ariefcatur/go-order-placement/internal/logging"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/ariefcatur/go-order-placement/internal/placement"
	"github.com/ariefcatur/go-order-placement/internal/postgres"
	"github.com/ariefcatur/go-order-placement/internal/redisx"
	"github.com/ariefcatur/go-order-placement/internal/tracing"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("tracing init")
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		zlog.Fatal().Err(err).Msg("db migrate")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.TopicOrderPlaced)
	defer prod.Close()

	repo := &orders.Repo{DB: db, PageSize: cfg.OrdersPageSize}
	cached := &orders.CachedRepo{Repo: repo, Redis: rdb, TTL: cfg.OrderCacheTTL}
	svc := &placement.Service{
		Carts:        cart.NewRedisLoader(rdb),
		Inventory:    &inventory.Engine{Store: &inventory.PostgresStore{DB: db}, MaxAttempts: cfg.ReserveMaxAttempts},
		Orders:       repo,
		Reads:        cached,
		Invalidation: &invalidation.KafkaScheduler{Producer: prod, Service: cfg.ServiceName},
		Cache:        cached,
	}

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: svc}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return shutdownTracing(sctx)
	})
	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msg("api exited")
	}
}
