// Package runctx holds the shared mutable record carried through a single
// replication run: client handles, the parsed configuration, and the
// timestamps that tie the snapshot phase to the change-stream phase.
//
// This is an explicit record passed to every component, not a hidden
// process-wide global: the snapshot engine populates lastTimestampFromOplog,
// the cutover controller seeds resumeTimeStamp, and only the applier writes
// to it afterwards.
package runctx

import (
	"context"
	"sync"

	"go.mongosyncdb.dev/internal/checkpoint"
	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/config"
	"go.mongosyncdb.dev/internal/mongostore"
)

// Context is the run-wide shared record.
type Context struct {
	Source *mongostore.Endpoint
	Target *mongostore.Endpoint

	Checkpoints *checkpoint.Store

	Config config.Config

	// RunID correlates every log line emitted during this run.
	RunID string

	mu                     sync.Mutex
	lastTimestampFromOplog clustertime.T
	resumeTimeStamp        clustertime.T
}

// New constructs a Context over already-connected endpoints.
func New(source, target *mongostore.Endpoint, checkpoints *checkpoint.Store, cfg config.Config, runID string) *Context {
	return &Context{
		Source:      source,
		Target:      target,
		Checkpoints: checkpoints,
		Config:      cfg,
		RunID:       runID,
	}
}

// SetLastTimestampFromOplog records the pre-snapshot anchor timestamp.
// Written once by the snapshot engine on a fresh load, before the applier
// starts; the resume path leaves it unset.
func (c *Context) SetLastTimestampFromOplog(ts clustertime.T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTimestampFromOplog = ts
}

// LastTimestampFromOplog returns the pre-snapshot anchor timestamp.
func (c *Context) LastTimestampFromOplog() clustertime.T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestampFromOplog
}

// SetResumeTimestamp records the timestamp the applier is currently
// resuming from (or has most recently checkpointed past). Seeded by the
// cutover controller, then written only by the applier.
func (c *Context) SetResumeTimestamp(ts clustertime.T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeTimeStamp = ts
}

// ResumeTimestamp returns the applier's current resume timestamp.
func (c *Context) ResumeTimestamp() clustertime.T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeTimeStamp
}

// Close releases both client handles. Best effort: called on both clean
// shutdown and fatal-error paths.
func (c *Context) Close(ctx context.Context) {
	_ = c.Source.Disconnect(ctx)
	_ = c.Target.Disconnect(ctx)
}
