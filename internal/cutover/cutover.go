// Package cutover enforces the fresh-load vs. resume preconditions and
// decides the timestamp the applier starts from.
package cutover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/runctx"
	"go.mongosyncdb.dev/internal/snapshot"
)

// ErrTargetAlreadyPopulated is returned by Run when a fresh load is
// requested but the target database already exists. Per spec this is not
// treated as a failure: the operator's expectation was an empty target, so
// there is nothing to do.
var ErrTargetAlreadyPopulated = errors.New("target database already exists; nothing to do")

// ErrCheckpointExists is returned by Run when a fresh load is requested
// but a checkpoint row already exists for the database.
var ErrCheckpointExists = errors.New("checkpoint exists for fresh load; set changeStream.resume=true or delete the checkpoint row")

// ErrNoCheckpoint is returned by Run when a resume is requested but no
// checkpoint row exists for the database.
var ErrNoCheckpoint = errors.New("resume requested but no checkpoint exists for this database")

// Result carries the timestamp the applier should hand to the change
// stream, already incremented per the resume-arithmetic rule when this
// was a resume.
type Result struct {
	// StartAt is the timestamp passed to Watch's startAtOperationTime.
	StartAt clustertime.T
}

// Run enforces the cutover preconditions and, on a fresh load, performs
// the snapshot (collections, then views) and persists the first
// checkpoint before returning. The order matters: the oplog timestamp is
// captured before any copy begins, so the change stream resumed from it
// replays every mutation that happened during the snapshot. rc's
// resumeTimeStamp is seeded with the decided start position before Run
// returns, so the applier inherits it from the same shared record.
func Run(ctx context.Context, rc *runctx.Context) (Result, error) {
	var result Result
	var err error
	if rc.Config.ChangeStream.Resume {
		result, err = resume(ctx, rc)
	} else {
		result, err = freshLoad(ctx, rc)
	}
	if err != nil {
		return Result{}, err
	}
	rc.SetResumeTimestamp(result.StartAt)
	return result, nil
}

func resume(ctx context.Context, rc *runctx.Context) (Result, error) {
	ts, ok, err := rc.Checkpoints.Load(ctx, rc.Config.Database)
	if err != nil {
		return Result{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return Result{}, ErrNoCheckpoint
	}

	// Resume-arithmetic rule: hand the stream ts+1 (ordinal incremented),
	// never the raw stored value, so the last-applied event is not
	// re-emitted.
	start := ts.Next()
	slog.Info("resuming from checkpoint", "checkpoint", ts, "startAt", start)
	return Result{StartAt: start}, nil
}

func freshLoad(ctx context.Context, rc *runctx.Context) (Result, error) {
	cfg := rc.Config

	exists, err := rc.Target.Exists(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("check target database: %w", err)
	}
	if exists {
		slog.Info("target database already exists, nothing to do", "database", cfg.Database)
		return Result{}, ErrTargetAlreadyPopulated
	}

	hasCheckpoint, err := rc.Checkpoints.Exists(ctx, cfg.Database)
	if err != nil {
		return Result{}, fmt.Errorf("check checkpoint: %w", err)
	}
	if hasCheckpoint {
		return Result{}, ErrCheckpointExists
	}

	engine := snapshot.New(rc)

	t0, err := engine.CapturePreSnapshotTimestamp(ctx)
	if err != nil {
		return Result{}, err
	}

	if err := engine.CopyCollections(ctx); err != nil {
		return Result{}, fmt.Errorf("copy collections: %w", err)
	}
	if err := engine.CreateViews(ctx); err != nil {
		return Result{}, fmt.Errorf("create views: %w", err)
	}

	if err := rc.Checkpoints.Save(ctx, cfg.Database, t0); err != nil {
		return Result{}, fmt.Errorf("persist initial checkpoint: %w", err)
	}

	slog.Info("fresh load complete", "database", cfg.Database, "checkpoint", t0)
	return Result{StartAt: t0}, nil
}
