package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activitysync/db/postgres/migrations"
	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/config"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/persistence/memory"
	"example.com/activitysync/internal/persistence/postgres"
	"example.com/activitysync/internal/persistence/sqlite"
	"example.com/activitysync/internal/transport"
	"example.com/activitysync/internal/transport/httplink"
	"example.com/activitysync/internal/transport/kafkaqueue"
	"example.com/activitysync/internal/transport/pgmirror"
)

// storeHandle is a domain.Store that owns resources.
type storeHandle interface {
	domain.Store
	Close() error
}

func newLogger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.LstdFlags)
}

// openPool connects to postgres and applies pending migrations.
func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	for _, name := range applied {
		log.Printf("applied migration %s", name)
	}
	return pool, nil
}

// buildStore opens the configured store. The pool is returned for postgres
// so the mirror tier can share it.
func buildStore(ctx context.Context, cfg config.Config) (storeHandle, *pgxpool.Pool, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := openPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRepository(pool), pool, nil
	case config.StoreSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreMemory:
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// buildChannel assembles whichever tiers are configured into a Composite.
func buildChannel(cfg config.Config, pool *pgxpool.Pool) (*transport.Composite, error) {
	var (
		immediate transport.Immediate
		queue     transport.Queue
		mirror    transport.Mirror
	)

	if cfg.CounterpartURL != "" {
		tokens := auth.NewTokenSource(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
			cfg.PeerID, cfg.PeerRole, auth.PeerScopes, cfg.TokenTTL)
		immediate = httplink.NewClient(cfg.CounterpartURL, tokens)
	}

	if len(cfg.KafkaBrokers) > 0 {
		opts := []kafkaqueue.Option{kafkaqueue.WithLogger(newLogger("kafkaqueue"))}
		if cfg.SchemaRegistryURL != "" {
			opts = append(opts, kafkaqueue.WithSchemaRegistry(kafkaqueue.NewSchemaRegistryClient(cfg.SchemaRegistryURL)))
		}
		q, err := kafkaqueue.New(kafkaqueue.Config{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.QueueTopicPrefix,
			Peer:        cfg.PeerID,
			Counterpart: cfg.CounterpartID,
		}, opts...)
		if err != nil {
			return nil, err
		}
		queue = q
	}

	if pool != nil {
		m, err := pgmirror.New(pool, cfg.PeerID, cfg.CounterpartID,
			pgmirror.WithLogger(newLogger("pgmirror")),
			pgmirror.WithPollInterval(cfg.MirrorPollInterval))
		if err != nil {
			return nil, err
		}
		mirror = m
	}

	if immediate == nil && queue == nil && mirror == nil {
		return nil, fmt.Errorf("no delivery tier configured: set COUNTERPART_URL, KAFKA_BROKERS or use the postgres store")
	}

	return transport.NewComposite(immediate, queue, mirror,
		transport.WithLogger(newLogger("transport")),
		transport.WithPollInterval(cfg.ReachabilityPollInterval)), nil
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second
