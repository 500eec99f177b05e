package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/event"
)

type fakeChecker struct {
	err   error
	stats *PoolStats
}

func (f *fakeChecker) Ping(context.Context) error { return f.err }
func (f *fakeChecker) Stats() *PoolStats         { return f.stats }

func serveHealth(t *testing.T, checker HealthChecker) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler("mongo", checker)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, body := serveHealth(t, &fakeChecker{stats: &PoolStats{TotalConns: 2, MaxConns: 10, Healthy: true}})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body["status"])
	}
	if body["driver"] != "mongo" {
		t.Errorf("expected driver mongo, got %v", body["driver"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected pool object, got %T", body["pool"])
	}
	if pool["max_conns"] != float64(10) {
		t.Errorf("expected max_conns 10, got %v", pool["max_conns"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	stats := &PoolStats{TotalConns: 1, Healthy: true}
	rec, body := serveHealth(t, &fakeChecker{err: errors.New("connection refused"), stats: stats})

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["error"] != "connection refused" {
		t.Errorf("expected ping error in body, got %v", body["error"])
	}
	if stats.Healthy {
		t.Error("expected stats to be marked unhealthy")
	}
}

func TestHealthHandler_NoPoolStats(t *testing.T) {
	rec, body := serveHealth(t, &fakeChecker{})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["pool"] != nil {
		t.Errorf("expected null pool for memory store, got %v", body["pool"])
	}
}

func TestMongoPoolMonitor_Stats(t *testing.T) {
	m := &mongoPoolMonitor{}
	m.handle(&event.PoolEvent{Type: event.ConnectionCreated})
	m.handle(&event.PoolEvent{Type: event.ConnectionCreated})
	m.handle(&event.PoolEvent{Type: event.GetSucceeded, Duration: 2 * time.Millisecond})
	m.handle(&event.PoolEvent{Type: event.GetSucceeded, Duration: 3 * time.Millisecond})
	m.handle(&event.PoolEvent{Type: event.ConnectionReturned})

	stats := m.stats(10)
	if stats.TotalConns != 2 {
		t.Errorf("expected 2 open connections, got %d", stats.TotalConns)
	}
	if stats.AcquiredConns != 1 {
		t.Errorf("expected 1 checked out, got %d", stats.AcquiredConns)
	}
	if stats.IdleConns != 1 {
		t.Errorf("expected 1 idle, got %d", stats.IdleConns)
	}
	if stats.AcquireCount != 2 {
		t.Errorf("expected 2 acquisitions, got %d", stats.AcquireCount)
	}
	if stats.AcquireDuration != "5ms" {
		t.Errorf("expected 5ms total acquire time, got %s", stats.AcquireDuration)
	}
	if !stats.Healthy {
		t.Error("expected healthy with open connections")
	}

	m.handle(&event.PoolEvent{Type: event.ConnectionClosed})
	m.handle(&event.PoolEvent{Type: event.ConnectionClosed})
	if m.stats(10).Healthy {
		t.Error("expected unhealthy with no open connections")
	}
}

func TestMongoDatabaseName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/clinic", "clinic"},
		{"mongodb+srv://user:pw@cluster.example.net/records?retryWrites=true", "records"},
		{"mongodb://localhost:27017", "fallback"},
		{"mongodb://localhost:27017/", "fallback"},
	}
	for _, tt := range tests {
		if got := MongoDatabaseName(tt.uri, "fallback"); got != tt.want {
			t.Errorf("MongoDatabaseName(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestOpen_MemoryDriver(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: "memory", MaxConns: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("expected memory store ping to succeed, got %v", err)
	}
	if s.Stats() != nil {
		t.Error("expected no pool stats for memory store")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
