// Package snapshot is the initial-load engine: it captures the
// pre-snapshot oplog timestamp, copies every non-system collection in
// parallel, recreates indexes, and recreates views.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/common/metrics"
	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/mongostore"
	"go.mongosyncdb.dev/internal/runctx"
)

// Engine runs the initial load against a pair of connected endpoints.
type Engine struct {
	Source *mongostore.Endpoint
	Target *mongostore.Endpoint
	Config config.InitialLoad

	// WriteConcern is applied to every target write issued during the
	// copy.
	WriteConcern any

	// run is the shared run record this engine populates
	// lastTimestampFromOplog on. Nil when an Engine is built directly
	// (as the unit tests do) rather than through a cutover run.
	run *runctx.Context

	// failedCollections is incremented from concurrent CopyCollections
	// workers, never read until group.Wait returns.
	failedCollections atomic.Int64
}

// New builds a snapshot Engine over rc's connected endpoints and
// configuration.
func New(rc *runctx.Context) *Engine {
	return &Engine{
		Source:       rc.Source,
		Target:       rc.Target,
		Config:       rc.Config.InitialLoad,
		WriteConcern: config.WriteConcernSelector(rc.Config.ChangeStream.WriteConcern),
		run:          rc,
	}
}

// CapturePreSnapshotTimestamp reads the source's newest oplog entry and
// records it on the run record as lastTimestampFromOplog. The change
// stream is later resumed from this timestamp, so every mutation that
// happens during the copy below is replayed by the applier instead of
// lost.
func (e *Engine) CapturePreSnapshotTimestamp(ctx context.Context) (clustertime.T, error) {
	ts, err := e.Source.LatestOplogEntry(ctx)
	if err != nil {
		return clustertime.T{}, fmt.Errorf("capture pre-snapshot timestamp: %w", err)
	}
	if e.run != nil {
		e.run.SetLastTimestampFromOplog(ts)
	}
	slog.Info("oplog timestamp collected", "ts", ts)
	return ts, nil
}

// CopyCollections enumerates the source's non-system, non-view collections
// and copies each one concurrently, up to min(collectionCount, maxWorkers)
// parallel workers.
//
// A worker's failure is logged but does not abort the run unless
// Config.FailFast is set; sibling collections continue either way until
// the failure is observed.
func (e *Engine) CopyCollections(ctx context.Context) error {
	names, err := e.Source.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list source collections: %w", err)
	}

	workers := e.Config.MaxWorkers
	if len(names) < workers {
		workers = len(names)
	}
	if workers == 0 {
		workers = 1
	}
	slog.Info("using parallel workers for collection import", "workers", workers, "collections", len(names))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, name := range names {
		name := name
		group.Go(func() error {
			if err := e.copyCollection(gctx, name); err != nil {
				slog.Error("collection copy failed", "collection", name, "error", err)
				e.failedCollections.Add(1)
				metrics.SnapshotWorkerFailures.WithLabelValues(name).Inc()
				if e.Config.FailFast {
					return fmt.Errorf("collection %s: %w", name, err)
				}
				return nil
			}
			metrics.SnapshotCollectionsCopied.Inc()
			return nil
		})
	}

	return group.Wait()
}

// FailedCollections reports how many collections failed to copy cleanly,
// for callers that want to surface the continue-on-error policy's result.
func (e *Engine) FailedCollections() int {
	return int(e.failedCollections.Load())
}

func (e *Engine) copyCollection(ctx context.Context, name string) error {
	slog.Info("fetching data from collection", "collection", name)

	count, err := e.Source.EstimatedDocumentCount(ctx, name)
	if err != nil {
		return fmt.Errorf("estimate document count: %w", err)
	}

	if count == 0 {
		slog.Info("collection is empty", "collection", name)
		if err := e.Target.InsertPlaceholder(ctx, name, e.WriteConcern); err != nil {
			return fmt.Errorf("materialize empty collection: %w", err)
		}
		metrics.SnapshotCollectionProgressPercent.WithLabelValues(name).Set(100)
	} else {
		slog.Info("collection has documents", "collection", name, "count", count)
		if err := e.copyBatches(ctx, name, count); err != nil {
			return fmt.Errorf("copy batches: %w", err)
		}
		metrics.SnapshotCollectionProgressPercent.WithLabelValues(name).Set(100)
		slog.Info("collection imported successfully", "collection", name)
	}

	return e.createIndexes(ctx, name)
}

// newProgressThrottle limits the per-batch progress log line to at most one
// per second per collection worker, so a large collection copied in small
// batches does not flood the log.
func newProgressThrottle() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 1)
}

// copyBatches reads the source collection in batches of Config.BatchSize
// documents and bulk-inserts each batch into the target, logging progress
// as a ceiling-rounded percentage of sourceCount after each batch.
func (e *Engine) copyBatches(ctx context.Context, name string, sourceCount int64) error {
	cursor, err := e.Source.FindRawBatches(ctx, name, int32(e.Config.BatchSize))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	limiter := newProgressThrottle()
	batch := make([]any, 0, e.Config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.Target.InsertMany(ctx, name, batch, e.WriteConcern); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		batch = batch[:0]

		targetCount, err := e.Target.EstimatedDocumentCount(ctx, name)
		if err != nil {
			return fmt.Errorf("re-estimate target count: %w", err)
		}
		if targetCount <= sourceCount {
			percent := float64(targetCount) / float64(sourceCount) * 100
			metrics.SnapshotCollectionProgressPercent.WithLabelValues(name).Set(percent)
			if limiter.Allow() {
				slog.Info("loading collection", "collection", name, "percent", int(math.Ceil(percent)))
			}
		}
		return nil
	}

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		batch = append(batch, doc)
		if len(batch) >= e.Config.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	return flush()
}

func (e *Engine) createIndexes(ctx context.Context, name string) error {
	indexes, err := e.Source.ListIndexes(ctx, name)
	if err != nil {
		return fmt.Errorf("list source indexes: %w", err)
	}
	for _, idx := range indexes {
		if err := e.Target.CreateIndex(ctx, name, idx); err != nil {
			slog.Error("failed to create index", "collection", name, "index", idx.Name, "error", err)
			continue
		}
		slog.Info("index created", "collection", name, "index", idx.Name)
	}
	return nil
}

// CreateViews recreates every source view on the target, dropping any
// existing collection or view of the same name first. View failures abort
// the run.
func (e *Engine) CreateViews(ctx context.Context) error {
	slog.Info("creating database views")

	views, err := e.Source.ListViews(ctx)
	if err != nil {
		return fmt.Errorf("list source views: %w", err)
	}

	for _, v := range views {
		slog.Info("creating view", "view", v.Name, "source", v.ViewOn)
		if err := e.Target.CreateView(ctx, v.Name, v.ViewOn, v.Pipeline); err != nil {
			return fmt.Errorf("create view %s: %w", v.Name, err)
		}
		slog.Info("view created successfully", "view", v.Name)
	}
	return nil
}
