// Featurepipe - Online Feature Pipeline for Recommendation Serving
// Copyright 2026 The Featurepipe Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recsyslab/featurepipe

// Command featurepipe runs the full pipeline in one process: HTTP event
// intake, partition-ordered aggregation workers, and recommendation serving.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/recsyslab/featurepipe/internal/aggregator"
	"github.com/recsyslab/featurepipe/internal/api"
	"github.com/recsyslab/featurepipe/internal/config"
	"github.com/recsyslab/featurepipe/internal/featurestore"
	"github.com/recsyslab/featurepipe/internal/ingest"
	"github.com/recsyslab/featurepipe/internal/logging"
	"github.com/recsyslab/featurepipe/internal/recommend"
	"github.com/recsyslab/featurepipe/internal/registry"
	"github.com/recsyslab/featurepipe/internal/resilience"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("featurepipe exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Msg("starting featurepipe")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guardCfg := resilience.Config{
		Retry: resilience.RetryConfig{
			MaxRetries:   uint64(cfg.Resilience.MaxRetries),
			InitialDelay: cfg.Resilience.InitialDelay,
			MaxDelay:     cfg.Resilience.MaxDelay,
			Multiplier:   2.0,
			Jitter:       0.25,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: uint32(cfg.Resilience.FailureThreshold),
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
			HalfOpenMaxCalls: uint32(cfg.Resilience.HalfOpenMaxCalls),
		},
	}

	// Storage tiers.
	redisCache, err := featurestore.NewRedisCache(featurestore.RedisConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	postgres, err := featurestore.NewPostgresStore(featurestore.PostgresConfig{
		URL:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectTimeout: cfg.Postgres.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if cfg.Postgres.EnsureSchema {
		if err := postgres.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	store := featurestore.New(
		featurestore.Config{TTL: cfg.Features.CacheTTL},
		redisCache,
		postgres,
		resilience.NewGuard("redis", guardCfg),
		resilience.NewGuard("postgres", guardCfg),
	)
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("closing feature store")
		}
	}()

	// Similarity index, built from the latest published model when a
	// registry is configured. Without one, serving runs on popularity.
	var searcher recommend.Searcher
	if cfg.Registry.URL != "" {
		client := registry.NewClient(registry.Config{
			BaseURL: cfg.Registry.URL,
			Timeout: cfg.Registry.Timeout,
		}, resilience.NewGuard("model-registry", guardCfg))

		model, err := client.LoadLatest(ctx)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		if model == nil {
			logging.Warn().Msg("no model published, serving popularity only")
		} else {
			index, err := registry.BuildIndex(model)
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			searcher = index
			logging.Info().
				Str("model_version", model.Version).
				Int("items", index.Len()).
				Int("dimension", index.Dimension()).
				Msg("similarity index ready")
		}
	}

	engine := recommend.NewEngine(recommend.Config{
		DefaultK:         cfg.Recommend.DefaultK,
		MaxK:             cfg.Recommend.MaxK,
		PopularityWindow: cfg.Recommend.PopularityWindow,
	}, store, searcher, resilience.NewGuard("similarity-search", guardCfg), logging.Logger())

	// Broker wiring.
	wmLogger := aggregator.NewWatermillLogger(logging.Logger())

	subCfg := aggregator.DefaultSubscriberConfig(cfg.NATS.URL)
	subCfg.QueueGroup = cfg.NATS.QueueGroup
	subCfg.DurableName = cfg.NATS.DurableName
	subCfg.StreamName = cfg.NATS.StreamName
	subCfg.ReconnectWait = cfg.NATS.ReconnectWait
	subCfg.AckWaitTimeout = cfg.NATS.AckWait
	subCfg.MaxDeliver = cfg.NATS.MaxDeliver
	subCfg.MaxAckPending = cfg.NATS.MaxAckPending
	subscriber, err := aggregator.NewNATSSubscriber(subCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("nats subscriber: %w", err)
	}

	consumerCfg := aggregator.DefaultConsumerConfig()
	consumerCfg.SubjectPrefix = cfg.Aggregator.SubjectPrefix
	consumerCfg.Partitions = cfg.Aggregator.Partitions
	consumerCfg.LedgerSize = cfg.Aggregator.LedgerSize
	consumerCfg.CloseTimeout = cfg.Aggregator.CloseTimeout
	consumer, err := aggregator.NewConsumer(consumerCfg, subscriber, func() *aggregator.Processor {
		return aggregator.NewProcessor(store, cfg.Aggregator.LedgerSize)
	}, wmLogger)
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}

	natsCfg := ingest.DefaultNATSConfig(cfg.NATS.URL)
	natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
	natsPub, err := ingest.NewNATSPublisher(natsCfg, wmLogger)
	if err != nil {
		return fmt.Errorf("nats publisher: %w", err)
	}
	publisher, err := ingest.NewEventPublisher(
		natsPub,
		resilience.NewGuard("broker", guardCfg),
		cfg.Aggregator.SubjectPrefix,
		cfg.Aggregator.Partitions,
	)
	if err != nil {
		return fmt.Errorf("event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("closing publisher")
		}
	}()

	server := api.NewServer(api.Config{
		Addr:               cfg.Server.Addr,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	}, ingest.NewHandler(publisher), engine, map[string]api.ReadyCheck{
		"postgres": postgres.Ping,
		"redis":    redisCache.Ping,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Info().Msg("shutting down")
		return consumer.Close()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logging.Info().Msg("featurepipe stopped")
	return nil
}
