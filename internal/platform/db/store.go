package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/clinic/records/internal/config"
)

// Options selects and sizes the backing store.
type Options struct {
	Driver        string
	URL           string
	MongoDatabase string
	MaxConns      int32
	MinConns      int32
}

// OptionsFromConfig maps the service configuration onto store options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Driver:        cfg.StoreDriver,
		URL:           cfg.Database,
		MongoDatabase: cfg.MongoDatabase,
		MaxConns:      cfg.DBMaxConns,
		MinConns:      cfg.DBMinConns,
	}
}

// Store owns the process-wide connection to the configured backend. It is
// opened once at startup, handed to the repositories that need it and closed
// on shutdown. Exactly one of Pool or MongoDB is set, or neither for the
// memory driver.
type Store struct {
	Driver  string
	Pool    *pgxpool.Pool
	Mongo   *mongo.Client
	MongoDB *mongo.Database

	maxConns     int32
	mongoMonitor *mongoPoolMonitor
}

// Open connects to the store described by opts.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{Driver: opts.Driver, maxConns: opts.MaxConns}

	switch opts.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, opts.URL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, err
		}
		s.Pool = pool
	case config.DriverMongo:
		client, monitor, err := NewMongoClient(ctx, opts.URL, opts.MaxConns, opts.MinConns)
		if err != nil {
			return nil, err
		}
		s.Mongo = client
		s.MongoDB = client.Database(MongoDatabaseName(opts.URL, opts.MongoDatabase))
		s.mongoMonitor = monitor
	case config.DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}

	return s, nil
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	switch {
	case s.Pool != nil:
		return s.Pool.Ping(ctx)
	case s.Mongo != nil:
		return s.Mongo.Ping(ctx, readpref.Primary())
	}
	return nil
}

// Stats reports connection pool figures, or nil for the memory driver.
func (s *Store) Stats() *PoolStats {
	switch {
	case s.Pool != nil:
		return GetPoolStats(s.Pool)
	case s.mongoMonitor != nil:
		return s.mongoMonitor.stats(s.maxConns)
	}
	return nil
}

// Close releases the backend connections.
func (s *Store) Close(ctx context.Context) error {
	switch {
	case s.Pool != nil:
		s.Pool.Close()
	case s.Mongo != nil:
		if err := s.Mongo.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnect mongo: %w", err)
		}
	}
	return nil
}
