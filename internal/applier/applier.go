// Package applier is the change-stream applier: it opens the change
// stream at the resume timestamp, interprets each event, applies it to the
// target, and drives the checkpoint engine.
package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"go.mongosyncdb.dev/internal/checkpoint"
	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/common/metrics"
	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/mongostore"
	"go.mongosyncdb.dev/internal/runctx"
)

// ErrUnsupportedEvent is returned for operationType values the applier
// does not understand; either a destructive event (drop, dropDatabase)
// or a protocol version it has not been taught.
var ErrUnsupportedEvent = errors.New("unsupported or destructive change-stream event")

// Applier is single-threaded: it consumes the change stream and issues
// target writes sequentially, never reordering events. applyCount and
// lastBatchWall are instance fields, not process-wide globals, so the
// applier is testable in isolation.
type Applier struct {
	Source *mongostore.Endpoint
	Target *mongostore.Endpoint

	Checkpoints *checkpoint.Store
	Database    string

	WriteConcern           any
	CheckpointBatchSize    int
	CheckpointTimeInterval time.Duration

	// run is the shared run record; on every persisted checkpoint the
	// applier advances its resumeTimeStamp. Nil when an Applier is built
	// directly (as the unit tests do) rather than through a cutover run.
	run *runctx.Context

	breaker *gobreaker.CircuitBreaker

	mu            sync.Mutex
	applyCount    int
	lastBatchWall time.Time

	running     atomic.Bool
	fatalErr    atomic.Value
	lastApplied atomic.Value // clustertime.T
}

// New constructs an Applier over rc's connected endpoints, checkpoint
// store, and change-stream configuration.
func New(rc *runctx.Context) *Applier {
	cfg := rc.Config.ChangeStream
	a := &Applier{
		Source:                 rc.Source,
		Target:                 rc.Target,
		Checkpoints:            rc.Checkpoints,
		Database:               rc.Config.Database,
		WriteConcern:           config.WriteConcernSelector(cfg.WriteConcern),
		CheckpointBatchSize:    cfg.CheckpointBatchSize,
		CheckpointTimeInterval: cfg.CheckpointTimeInterval,
		run:                    rc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "applier-target-write",
			MaxRequests: 1,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
				metrics.ApplierCircuitBreakerState.Set(float64(breakerStateValue(to)))
			},
		}),
	}
	a.lastBatchWall = time.Now()
	return a
}

// IsRunning reports whether Run's event loop is currently active.
func (a *Applier) IsRunning() bool { return a.running.Load() }

// FatalError returns the error that stopped the applier, if any.
func (a *Applier) FatalError() error {
	if v := a.fatalErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// LastApplied returns the clusterTime of the most recently applied event,
// used to compute checkpoint lag for the readiness/metrics surface.
func (a *Applier) LastApplied() clustertime.T {
	if v := a.lastApplied.Load(); v != nil {
		return v.(clustertime.T)
	}
	return clustertime.T{}
}

// Run opens the change stream at startAt and applies events until ctx is
// cancelled or a fatal error occurs. Every target write failure and every
// destructive or unsupported event is fatal: Run returns the error rather
// than skipping the event, since the applier cannot silently skip an
// event without leaving the target permanently diverged from the source.
func (a *Applier) Run(ctx context.Context, startAt clustertime.T) error {
	a.running.Store(true)
	defer a.running.Store(false)

	start := startAt.WallClock()
	slog.Info("change stream started", "database", a.Database, "startAt", startAt, "wallClock", start)

	stream, err := a.Source.Watch(ctx, startAt)
	if err != nil {
		return a.fail(fmt.Errorf("open change stream: %w", err))
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var event mongostore.ChangeEvent
		if err := stream.Decode(&event); err != nil {
			return a.fail(fmt.Errorf("decode change event: %w", err))
		}

		if err := a.apply(ctx, event); err != nil {
			return a.fail(err)
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return a.fail(fmt.Errorf("change stream error: %w", err))
	}
	return nil
}

func (a *Applier) fail(err error) error {
	a.fatalErr.Store(err)
	slog.Error("change stream processing failed", "database", a.Database, "error", err)
	return err
}

// apply dispatches one event to its idempotent target mutation, per the
// event-dispatch table, then advances the checkpoint engine.
func (a *Applier) apply(ctx context.Context, event mongostore.ChangeEvent) (err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failed"
		}
		metrics.ApplierEventsApplied.WithLabelValues(event.OperationType, result).Inc()
	}()

	collection := event.NS.Collection

	write := func(fn func() error) error {
		_, err := a.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		return err
	}

	switch event.OperationType {
	case "insert":
		id := event.FullDocument["_id"]
		if err := write(func() error {
			return a.Target.ReplaceOne(ctx, collection, id, event.FullDocument, a.WriteConcern)
		}); err != nil {
			return fmt.Errorf("apply insert on %s: %w", collection, err)
		}

	case "update":
		id := event.DocumentKey["_id"]
		if err := write(func() error {
			return a.Target.UpdateSet(ctx, collection, id, event.UpdateDescription.UpdatedFields, a.WriteConcern)
		}); err != nil {
			return fmt.Errorf("apply update $set on %s: %w", collection, err)
		}
		for _, field := range event.UpdateDescription.RemovedFields {
			if err := write(func() error {
				return a.Target.UpdateUnset(ctx, collection, id, field, a.WriteConcern)
			}); err != nil {
				return fmt.Errorf("apply update $unset on %s: %w", collection, err)
			}
		}

	case "replace":
		id := event.FullDocument["_id"]
		if err := write(func() error {
			return a.Target.ReplaceOne(ctx, collection, id, event.FullDocument, a.WriteConcern)
		}); err != nil {
			return fmt.Errorf("apply replace on %s: %w", collection, err)
		}

	case "delete":
		id := event.DocumentKey["_id"]
		if err := write(func() error {
			return a.Target.DeleteOne(ctx, collection, id, a.WriteConcern)
		}); err != nil {
			return fmt.Errorf("apply delete on %s: %w", collection, err)
		}

	case "rename":
		to := event.To.Collection
		if err := write(func() error {
			return a.applyRename(ctx, collection, to)
		}); err != nil {
			return fmt.Errorf("apply rename %s -> %s: %w", collection, to, err)
		}

	case "drop", "dropDatabase":
		return fmt.Errorf("%w: %s received, synchronization aborted", ErrUnsupportedEvent, event.OperationType)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.OperationType)
	}

	ts := clustertime.FromPrimitive(event.ClusterTime)
	a.lastApplied.Store(ts)
	return a.checkpointIfDue(ctx, ts)
}

// applyRename renames the source-side collection handle on the target.
// A replayed rename against an already-renamed collection would normally
// be fatal (per the applier's error-is-always-fatal policy); as a scoped
// exception, a rename whose target name already exists and whose source
// name is gone is treated as a no-op, since that shape means a prior run
// applied the rename but crashed before a checkpoint covering it landed.
func (a *Applier) applyRename(ctx context.Context, from, to string) error {
	toExists, err := a.Target.CollectionExists(ctx, to)
	if err != nil {
		return err
	}
	fromExists, err := a.Target.CollectionExists(ctx, from)
	if err != nil {
		return err
	}
	if toExists && !fromExists {
		slog.Info("rename already applied, treating as no-op", "from", from, "to", to)
		return nil
	}
	return a.Target.RenameCollection(ctx, from, to)
}

// checkpointIfDue persists candidate when either applyCount has reached
// CheckpointBatchSize or CheckpointTimeInterval has elapsed since the last
// checkpoint. On persist both counters reset. The candidate is always the
// last-applied event's clusterTime, never a future or synthesized value.
func (a *Applier) checkpointIfDue(ctx context.Context, candidate clustertime.T) error {
	a.mu.Lock()
	a.applyCount++
	due := dueForCheckpoint(a.applyCount, time.Since(a.lastBatchWall), a.CheckpointBatchSize, a.CheckpointTimeInterval)
	a.mu.Unlock()

	if !due {
		return nil
	}

	a.mu.Lock()
	trigger := checkpointTrigger(a.applyCount, time.Since(a.lastBatchWall), a.CheckpointBatchSize, a.CheckpointTimeInterval)
	a.mu.Unlock()

	if err := a.Checkpoints.Save(ctx, a.Database, candidate); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	a.mu.Lock()
	a.applyCount = 0
	a.lastBatchWall = time.Now()
	a.mu.Unlock()

	if a.run != nil {
		a.run.SetResumeTimestamp(candidate)
	}

	metrics.ApplierCheckpointsSaved.WithLabelValues(trigger).Inc()
	slog.Info("checkpoint completed", "database", a.Database, "position", candidate, "wallClock", candidate.WallClock())
	return nil
}

// dueForCheckpoint is the checkpoint engine's dual-trigger rule: a
// checkpoint is due once applyCount reaches batchSize, or once
// sinceLastBatch has reached the time interval, whichever comes first.
func dueForCheckpoint(applyCount int, sinceLastBatch time.Duration, batchSize int, interval time.Duration) bool {
	return applyCount >= batchSize || sinceLastBatch >= interval
}

// checkpointTrigger reports which of the dual triggers fired, for the
// checkpoints-saved-by-trigger metric. Mirrors dueForCheckpoint's
// condition order: batch size is checked first.
func checkpointTrigger(applyCount int, sinceLastBatch time.Duration, batchSize int, interval time.Duration) string {
	if applyCount >= batchSize {
		return "batch_size"
	}
	return "time_interval"
}

// breakerStateValue maps a gobreaker.State to the circuit-breaker-state
// metric's numeric convention (closed=0, open=1, half-open=2).
func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
