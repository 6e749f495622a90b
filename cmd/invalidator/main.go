package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-placement/internal/config"
	"github.com/ariefcatur/go-order-placement/internal/invalidation"
	kafkax "github.com/ariefcatur/go-order-placement/internal/kafka"
	"github.com/ariefcatur/go-order-placement/internal/logging"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/ariefcatur/go-order-placement/internal/redisx"
	"github.com/ariefcatur/go-order-placement/internal/tracing"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-invalidator"
	logging.Setup(cfg.LogLevel, service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(service, cfg.JaegerEndpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("tracing init")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	h := &invalidation.Handler{
		Cache:   &orders.CachedRepo{Redis: rdb},
		Redis:   rdb,
		Service: service,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InvalidatorGroup, cfg.TopicOrderPlaced, cfg.InvalidatorWorkers)
	zlog.Info().
		Str("group", cfg.InvalidatorGroup).
		Str("topic", cfg.TopicOrderPlaced).
		Int("workers", cfg.InvalidatorWorkers).
		Msg("invalidator consumer started")
	if err := cons.Start(ctx, h.HandleOrderPlaced); err != nil {
		zlog.Error().Err(err).Msg("consumer exit")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(sctx)
}
