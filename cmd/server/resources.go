package main

import (
	"context"
	"fmt"
	"log/slog"

	"certstore/internal/crl"
	"certstore/internal/crl/sink"
	"certstore/internal/directory"
	"certstore/internal/directory/memory"
	pgdirectory "certstore/internal/directory/postgres"
	"certstore/internal/platform/config"
	"certstore/internal/platform/kafka"
	"certstore/internal/platform/postgres"
	"certstore/internal/platform/redis"
	httptransport "certstore/internal/transport/http"
)

const (
	kafkaPartitions  = 3
	kafkaReplication = 1
)

// resources tracks opened backends so run can release them in reverse order.
type resources struct {
	closers      []func() error
	healthChecks []httptransport.Option
}

func (r *resources) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *resources) check(name string, fn httptransport.HealthCheck) {
	r.healthChecks = append(r.healthChecks, httptransport.WithHealthCheck(name, fn))
}

func (r *resources) close(log *slog.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			log.Warn("failed to release resource", "error", err)
		}
	}
}

func (r *resources) openDirectory(ctx context.Context, cfg config.Directory, log *slog.Logger) (directory.Directory, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("directory: %w", err)
		}
		r.onClose(func() error { pool.Close(); return nil })
		r.check("directory", pool.Ping)

		dir := pgdirectory.New(pool, pgdirectory.WithLogger(log))
		if err := dir.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("directory: %w", err)
		}
		r.onClose(dir.Close)
		return dir, nil
	default:
		dir := memory.New()
		r.onClose(dir.Close)
		log.Warn("using the in-memory directory; records are lost on restart")
		return dir, nil
	}
}

// openSinks connects every configured issuing point target.
func (r *resources) openSinks(ctx context.Context, cfg config.Sinks, log *slog.Logger) ([]crl.Sink, error) {
	var sinks []crl.Sink

	if cfg.RedisURL != "" {
		client, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		r.onClose(client.Close)
		r.check("redis", client.Health)
		sinks = append(sinks, sink.NewRedis(client, cfg.IssuingPoint))
	}

	if cfg.PostgresURL != "" {
		db, err := postgres.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		r.onClose(db.Close)
		r.check("crl_postgres", db.PingContext)
		pg := sink.NewPostgres(db, cfg.IssuingPoint)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		sinks = append(sinks, pg)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		client, err := kafka.New(ctx, cfg.Kafka.Brokers)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		r.onClose(func() error { client.Close(); return nil })
		r.check("kafka", client.Ping)
		if err := sink.EnsureTopic(ctx, client, cfg.Kafka.Topic, kafkaPartitions, kafkaReplication); err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, sink.NewKafka(client, cfg.Kafka.Topic, cfg.IssuingPoint))
	}

	if len(sinks) == 0 {
		log.Info("no issuing point sink configured; keeping notifications in memory")
		sinks = append(sinks, sink.NewMemory())
	}
	return sinks, nil
}
