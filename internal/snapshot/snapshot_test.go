package snapshot

import (
	"testing"
	"time"

	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/runctx"
)

func TestNew_CarriesConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.InitialLoad = config.InitialLoad{BatchSize: 500, MaxWorkers: 8, FailFast: true}
	cfg.ChangeStream.WriteConcern = "majority"

	rc := runctx.New(nil, nil, nil, cfg, "test-run")
	e := New(rc)

	if e.Config.BatchSize != 500 {
		t.Errorf("expected batch size 500, got %d", e.Config.BatchSize)
	}
	if e.Config.MaxWorkers != 8 {
		t.Errorf("expected max workers 8, got %d", e.Config.MaxWorkers)
	}
	if !e.Config.FailFast {
		t.Error("expected FailFast true")
	}
	if e.WriteConcern != "majority" {
		t.Errorf("expected write concern majority, got %v", e.WriteConcern)
	}
	if e.FailedCollections() != 0 {
		t.Errorf("expected zero failed collections on a fresh engine, got %d", e.FailedCollections())
	}
}

func TestNewProgressThrottle_LimitsToOncePerSecond(t *testing.T) {
	limiter := newProgressThrottle()

	if !limiter.Allow() {
		t.Fatal("expected the first call to be allowed")
	}
	if limiter.Allow() {
		t.Error("expected an immediately-following call to be throttled")
	}
}

func TestNewProgressThrottle_AllowsAgainAfterInterval(t *testing.T) {
	limiter := newProgressThrottle()
	limiter.Allow()

	time.Sleep(1100 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("expected a call after the throttle interval to be allowed")
	}
}
