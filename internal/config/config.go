// Package config defines and loads the mongosyncdb configuration document.
package config

import "time"

// Config holds every configuration option the core requires, per the
// enumerated option list: database identity, source/target connection
// parameters, initial-load tuning, and change-stream/checkpoint tuning.
type Config struct {
	// Database is the logical database name, identical on source and
	// target.
	Database string

	Source Endpoint
	Target Endpoint

	InitialLoad InitialLoad
	ChangeStream ChangeStream

	// Secrets configures how secret:// references in Source/Target
	// credentials are resolved.
	Secrets SecretsConfig

	// LogLevel controls the minimum slog level written to both the
	// per-database log file and the console.
	LogLevel string

	// HTTPPort serves /q/health/live, /q/health/ready, and /metrics.
	HTTPPort int
}

// Endpoint holds connection parameters for one deployment. Username and
// Password may be literal values or secret://<key> references resolved
// through the configured secrets provider at startup.
type Endpoint struct {
	Hostname string
	Port     int
	Username string
	Password string
}

// InitialLoad tunes the snapshot engine.
type InitialLoad struct {
	// BatchSize is the number of documents read per raw batch during
	// snapshot copy.
	BatchSize int

	// MaxWorkers upper-bounds parallel snapshot workers; the effective
	// worker count is min(collectionCount, MaxWorkers).
	MaxWorkers int

	// FailFast controls per-collection snapshot failure policy. When
	// false (the default, matching the behavior this tool was distilled
	// from), a worker's failure is logged and sibling collections
	// continue. When true, the first per-collection failure aborts the
	// run.
	FailFast bool
}

// ChangeStream tunes cutover mode and the applier's checkpoint engine.
type ChangeStream struct {
	// Resume selects cutover mode: false for a fresh load, true to
	// resume from a persisted checkpoint.
	Resume bool

	// WriteConcern is the write-concern selector ("majority", a tag set
	// name, or a numeric w value) applied to every target write, both
	// snapshot and applier.
	WriteConcern any

	// CheckpointBatchSize is the number of applied events between
	// forced checkpoints.
	CheckpointBatchSize int

	// CheckpointTimeInterval is the wall-clock interval between forced
	// checkpoints. It is checked after each applied event; while no events
	// arrive, no checkpoint is written.
	CheckpointTimeInterval time.Duration
}

// SecretsConfig selects and configures the secrets provider used to
// resolve secret:// references in Source/Target credentials.
type SecretsConfig struct {
	Provider string

	EncryptionKey string
	DataDir       string

	AWSRegion   string
	AWSPrefix   string
	AWSEndpoint string

	VaultAddr      string
	VaultPath      string
	VaultNamespace string

	GCPProject string
	GCPPrefix  string
}

// Default returns the baseline configuration overridden by a loaded file.
func Default() Config {
	return Config{
		InitialLoad: InitialLoad{
			BatchSize:  1000,
			MaxWorkers: 4,
			FailFast:   false,
		},
		ChangeStream: ChangeStream{
			Resume:                 false,
			WriteConcern:           "majority",
			CheckpointBatchSize:    500,
			CheckpointTimeInterval: 10 * time.Second,
		},
		Secrets: SecretsConfig{
			Provider:  "env",
			AWSPrefix: "/mongosyncdb/",
			VaultPath: "secret/data/mongosyncdb",
			GCPPrefix: "mongosyncdb-",
		},
		LogLevel: "info",
		HTTPPort: 8080,
	}
}
