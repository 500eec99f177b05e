package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoPoolMonitor counts connection pool events so the health endpoint can
// report the same figures for Mongo as pgxpool does for Postgres.
type mongoPoolMonitor struct {
	open         atomic.Int32
	checkedOut   atomic.Int32
	acquireCount atomic.Int64
	acquireNanos atomic.Int64
}

func (m *mongoPoolMonitor) handle(evt *event.PoolEvent) {
	switch evt.Type {
	case event.ConnectionCreated:
		m.open.Add(1)
	case event.ConnectionClosed:
		m.open.Add(-1)
	case event.GetSucceeded:
		m.checkedOut.Add(1)
		m.acquireCount.Add(1)
		m.acquireNanos.Add(int64(evt.Duration))
	case event.ConnectionReturned:
		m.checkedOut.Add(-1)
	}
}

func (m *mongoPoolMonitor) stats(maxConns int32) *PoolStats {
	total := m.open.Load()
	acquired := m.checkedOut.Load()
	idle := total - acquired
	if idle < 0 {
		idle = 0
	}
	return &PoolStats{
		TotalConns:      total,
		IdleConns:       idle,
		AcquiredConns:   acquired,
		MaxConns:        maxConns,
		AcquireCount:    m.acquireCount.Load(),
		AcquireDuration: time.Duration(m.acquireNanos.Load()).String(),
		Healthy:         total > 0,
	}
}

// NewMongoClient connects to the deployment named by uri with a pool capped at
// maxConns and verifies the primary is reachable.
func NewMongoClient(ctx context.Context, uri string, maxConns, minConns int32) (*mongo.Client, *mongoPoolMonitor, error) {
	monitor := &mongoPoolMonitor{}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName("clinic-records").
		SetMaxPoolSize(uint64(maxConns)).
		SetMinPoolSize(uint64(minConns)).
		SetPoolMonitor(&event.PoolMonitor{Event: monitor.handle})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	return client, monitor, nil
}

// MongoDatabaseName returns the database named in the URI path, or fallback
// when the URI does not name one.
func MongoDatabaseName(uri, fallback string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return fallback
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return fallback
}
