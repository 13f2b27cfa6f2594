package applier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/mongostore"
	"go.mongosyncdb.dev/internal/runctx"
)

func TestDueForCheckpoint(t *testing.T) {
	tests := []struct {
		name           string
		applyCount     int
		sinceLastBatch time.Duration
		batchSize      int
		interval       time.Duration
		want           bool
	}{
		{"below both thresholds", 10, time.Second, 500, 10 * time.Second, false},
		{"batch size reached", 500, time.Second, 500, 10 * time.Second, true},
		{"batch size exceeded", 501, time.Second, 500, 10 * time.Second, true},
		{"time interval reached", 1, 10 * time.Second, 500, 10 * time.Second, true},
		{"time interval exceeded with zero events", 0, 11 * time.Second, 500, 10 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dueForCheckpoint(tt.applyCount, tt.sinceLastBatch, tt.batchSize, tt.interval)
			if got != tt.want {
				t.Errorf("dueForCheckpoint(%d, %s, %d, %s) = %v, want %v",
					tt.applyCount, tt.sinceLastBatch, tt.batchSize, tt.interval, got, tt.want)
			}
		})
	}
}

func TestCheckpointTrigger(t *testing.T) {
	tests := []struct {
		name       string
		applyCount int
		since      time.Duration
		batchSize  int
		interval   time.Duration
		want       string
	}{
		{"batch size reached first", 500, time.Second, 500, 10 * time.Second, "batch_size"},
		{"time interval reached, batch short", 10, 10 * time.Second, 500, 10 * time.Second, "time_interval"},
		{"both reached prefers batch size", 500, 10 * time.Second, 500, 10 * time.Second, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkpointTrigger(tt.applyCount, tt.since, tt.batchSize, tt.interval)
			if got != tt.want {
				t.Errorf("checkpointTrigger(...) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBreakerStateValue(t *testing.T) {
	if got := breakerStateValue(gobreaker.StateClosed); got != 0 {
		t.Errorf("expected closed=0, got %d", got)
	}
	if got := breakerStateValue(gobreaker.StateOpen); got != 1 {
		t.Errorf("expected open=1, got %d", got)
	}
	if got := breakerStateValue(gobreaker.StateHalfOpen); got != 2 {
		t.Errorf("expected half-open=2, got %d", got)
	}
}

func TestApplyRejectsDropEvents(t *testing.T) {
	a := &Applier{}

	for _, op := range []string{"drop", "dropDatabase"} {
		t.Run(op, func(t *testing.T) {
			event := mongostore.ChangeEvent{OperationType: op}
			err := a.apply(context.Background(), event)
			if err == nil {
				t.Fatal("expected error for destructive event, got nil")
			}
			if !errors.Is(err, ErrUnsupportedEvent) {
				t.Errorf("expected ErrUnsupportedEvent, got %v", err)
			}
		})
	}
}

func TestApplyRejectsUnknownOperationType(t *testing.T) {
	a := &Applier{}
	event := mongostore.ChangeEvent{OperationType: "invalidate"}

	err := a.apply(context.Background(), event)
	if err == nil {
		t.Fatal("expected error for unknown operation type, got nil")
	}
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Errorf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestNewSeedsLastBatchWall(t *testing.T) {
	cfg := config.Default()
	cfg.Database = "testdb"
	cfg.ChangeStream = config.ChangeStream{
		WriteConcern:           "majority",
		CheckpointBatchSize:    500,
		CheckpointTimeInterval: 10 * time.Second,
	}
	rc := runctx.New(nil, nil, nil, cfg, "test-run")

	a := New(rc)
	if a.lastBatchWall.IsZero() {
		t.Error("expected lastBatchWall to be seeded at construction, got zero value")
	}
	if a.IsRunning() {
		t.Error("expected a freshly constructed Applier to report not running")
	}
	if a.FatalError() != nil {
		t.Error("expected a freshly constructed Applier to have no fatal error")
	}
}
