package runctx

import (
	"context"
	"testing"

	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/config"
)

func TestNew_SeedsFields(t *testing.T) {
	cfg := config.Default()
	cfg.Database = "orders"

	c := New(nil, nil, nil, cfg, "run-123")

	if c.RunID != "run-123" {
		t.Errorf("expected RunID run-123, got %q", c.RunID)
	}
	if c.Config.Database != "orders" {
		t.Errorf("expected database orders, got %q", c.Config.Database)
	}
}

func TestLastTimestampFromOplog_RoundTrips(t *testing.T) {
	c := New(nil, nil, nil, config.Default(), "run-123")

	ts := clustertime.T{Seconds: 1700000000, Ordinal: 4}
	c.SetLastTimestampFromOplog(ts)

	if got := c.LastTimestampFromOplog(); got != ts {
		t.Errorf("expected %v, got %v", ts, got)
	}
}

func TestResumeTimestamp_RoundTrips(t *testing.T) {
	c := New(nil, nil, nil, config.Default(), "run-123")

	ts := clustertime.T{Seconds: 1700000500, Ordinal: 1}
	c.SetResumeTimestamp(ts)

	if got := c.ResumeTimestamp(); got != ts {
		t.Errorf("expected %v, got %v", ts, got)
	}
}

func TestClose_ToleratesNilEndpoints(t *testing.T) {
	c := New(nil, nil, nil, config.Default(), "run-123")

	// Source and Target are nil *mongostore.Endpoint; Close must not panic,
	// mirroring Disconnect's own nil-receiver guard.
	c.Close(context.Background())
}
