package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/taskconsole/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	rec := history.Record{
		ProcessID:     "a1b2c3",
		ExternalKey:   "13800000000",
		State:         "running",
		Alive:         true,
		CreatedAt:     now.Add(-time.Minute),
		LastRefreshAt: now,
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventRunning, OccurredAt: now, Record: rec}); err != nil {
		t.Fatalf("Failed to send running event: %v", err)
	}

	rec.State = "failed"
	rec.Alive = false
	rec.Error = "context canceled"
	if err := sink.Send(ctx, history.Event{Type: history.EventReaped, OccurredAt: now.Add(time.Second), Record: rec}); err != nil {
		t.Fatalf("Failed to send reaped event: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM worker_history WHERE process_id = $1", rec.ProcessID).Scan(&count); err != nil {
		t.Fatalf("Failed to query worker_history: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events in history, got %d", count)
	}

	var alive bool
	if err := sink.db.QueryRowContext(ctx, "SELECT alive FROM worker_history WHERE event = 'reaped'").Scan(&alive); err != nil {
		t.Fatalf("Failed to query reaped row: %v", err)
	}
	if alive {
		t.Error("reaped row should not be alive")
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
