package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"go.mongosyncdb.dev/internal/common/secrets"
)

// tomlConfig mirrors Config's shape for TOML decoding; field names follow
// the enumerated configuration options exactly.
type tomlConfig struct {
	Database    string            `toml:"database"`
	Source      tomlEndpoint      `toml:"source"`
	Target      tomlEndpoint      `toml:"target"`
	InitialLoad tomlInitialLoad   `toml:"initialLoad"`
	ChangeStream tomlChangeStream `toml:"changeStream"`
	Secrets     tomlSecrets       `toml:"secrets"`
	LogLevel    string            `toml:"logLevel"`
	HTTPPort    int               `toml:"httpPort"`
}

type tomlEndpoint struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type tomlInitialLoad struct {
	BatchSize  int  `toml:"batchSize"`
	MaxWorkers int  `toml:"maxWorkers"`
	FailFast   bool `toml:"failFast"`
}

type tomlChangeStream struct {
	Resume                 bool   `toml:"resume"`
	WriteConcern           any    `toml:"writeConcern"`
	CheckpointBatchSize    int    `toml:"checkpointBatchSize"`
	CheckpointTimeInterval string `toml:"checkpointTimeInterval"`
}

type tomlSecrets struct {
	Provider      string `toml:"provider"`
	EncryptionKey string `toml:"encryptionKey"`
	DataDir       string `toml:"dataDir"`

	AWSRegion   string `toml:"awsRegion"`
	AWSPrefix   string `toml:"awsPrefix"`
	AWSEndpoint string `toml:"awsEndpoint"`

	VaultAddr      string `toml:"vaultAddr"`
	VaultPath      string `toml:"vaultPath"`
	VaultNamespace string `toml:"vaultNamespace"`

	GCPProject string `toml:"gcpProject"`
	GCPPrefix  string `toml:"gcpPrefix"`
}

// LoadFromFile reads and parses the TOML configuration file at path,
// overlaying it on Default(), then resolves any secret:// references in
// Source/Target credentials through the configured secrets provider.
//
// Per the error-kind policy, a missing file, parse failure, or empty
// content is reported and the process exits before any network I/O; this
// function returns that error to the caller rather than exiting itself.
func LoadFromFile(ctx context.Context, path string) (Config, error) {
	var tc tomlConfig
	meta, err := toml.DecodeFile(path, &tc)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(meta.Keys()) == 0 {
		return Config{}, fmt.Errorf("config file %s is empty", path)
	}
	if tc.Database == "" {
		return Config{}, fmt.Errorf("config file %s: database is required", path)
	}

	cfg := Default()
	cfg.Database = tc.Database
	cfg.Source = Endpoint(tc.Source)
	cfg.Target = Endpoint(tc.Target)

	if tc.InitialLoad.BatchSize > 0 {
		cfg.InitialLoad.BatchSize = tc.InitialLoad.BatchSize
	}
	if tc.InitialLoad.MaxWorkers > 0 {
		cfg.InitialLoad.MaxWorkers = tc.InitialLoad.MaxWorkers
	}
	cfg.InitialLoad.FailFast = tc.InitialLoad.FailFast

	cfg.ChangeStream.Resume = tc.ChangeStream.Resume
	if tc.ChangeStream.WriteConcern != nil {
		cfg.ChangeStream.WriteConcern = tc.ChangeStream.WriteConcern
	}
	if tc.ChangeStream.CheckpointBatchSize > 0 {
		cfg.ChangeStream.CheckpointBatchSize = tc.ChangeStream.CheckpointBatchSize
	}
	if tc.ChangeStream.CheckpointTimeInterval != "" {
		d, err := time.ParseDuration(tc.ChangeStream.CheckpointTimeInterval)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: changeStream.checkpointTimeInterval: %w", path, err)
		}
		cfg.ChangeStream.CheckpointTimeInterval = d
	}

	if tc.Secrets.Provider != "" {
		cfg.Secrets.Provider = tc.Secrets.Provider
	}
	if tc.Secrets.EncryptionKey != "" {
		cfg.Secrets.EncryptionKey = tc.Secrets.EncryptionKey
	}
	if tc.Secrets.DataDir != "" {
		cfg.Secrets.DataDir = tc.Secrets.DataDir
	}
	if tc.Secrets.AWSRegion != "" {
		cfg.Secrets.AWSRegion = tc.Secrets.AWSRegion
	}
	if tc.Secrets.AWSPrefix != "" {
		cfg.Secrets.AWSPrefix = tc.Secrets.AWSPrefix
	}
	if tc.Secrets.AWSEndpoint != "" {
		cfg.Secrets.AWSEndpoint = tc.Secrets.AWSEndpoint
	}
	if tc.Secrets.VaultAddr != "" {
		cfg.Secrets.VaultAddr = tc.Secrets.VaultAddr
	}
	if tc.Secrets.VaultPath != "" {
		cfg.Secrets.VaultPath = tc.Secrets.VaultPath
	}
	if tc.Secrets.VaultNamespace != "" {
		cfg.Secrets.VaultNamespace = tc.Secrets.VaultNamespace
	}
	if tc.Secrets.GCPProject != "" {
		cfg.Secrets.GCPProject = tc.Secrets.GCPProject
	}
	if tc.Secrets.GCPPrefix != "" {
		cfg.Secrets.GCPPrefix = tc.Secrets.GCPPrefix
	}

	if tc.LogLevel != "" {
		cfg.LogLevel = tc.LogLevel
	}
	if tc.HTTPPort > 0 {
		cfg.HTTPPort = tc.HTTPPort
	}

	if err := resolveSecrets(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("resolve secret references: %w", err)
	}

	return cfg, nil
}

// secretPrefix marks a credential field as a provider reference rather
// than a literal value, e.g. "secret://source-password".
const secretPrefix = "secret://"

// resolveSecrets replaces every secret://<key> reference in Source/Target
// credentials with the value the configured provider returns.
func resolveSecrets(ctx context.Context, cfg *Config) error {
	needsResolution := hasSecretRef(cfg.Source.Username) || hasSecretRef(cfg.Source.Password) ||
		hasSecretRef(cfg.Target.Username) || hasSecretRef(cfg.Target.Password)
	if !needsResolution {
		return nil
	}

	provider, err := secrets.NewProvider(&secrets.Config{
		Provider:       secrets.ProviderType(cfg.Secrets.Provider),
		EncryptionKey:  cfg.Secrets.EncryptionKey,
		DataDir:        cfg.Secrets.DataDir,
		AWSRegion:      cfg.Secrets.AWSRegion,
		AWSPrefix:      cfg.Secrets.AWSPrefix,
		AWSEndpoint:    cfg.Secrets.AWSEndpoint,
		VaultAddr:      cfg.Secrets.VaultAddr,
		VaultPath:      cfg.Secrets.VaultPath,
		VaultNamespace: cfg.Secrets.VaultNamespace,
		GCPProject:     cfg.Secrets.GCPProject,
		GCPPrefix:      cfg.Secrets.GCPPrefix,
	})
	if err != nil {
		return err
	}

	resolve := func(field *string) error {
		if !hasSecretRef(*field) {
			return nil
		}
		key := strings.TrimPrefix(*field, secretPrefix)
		value, err := provider.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", key, err)
		}
		*field = value
		return nil
	}

	for _, field := range []*string{&cfg.Source.Username, &cfg.Source.Password, &cfg.Target.Username, &cfg.Target.Password} {
		if err := resolve(field); err != nil {
			return err
		}
	}
	return nil
}

func hasSecretRef(s string) bool {
	return strings.HasPrefix(s, secretPrefix)
}

// WriteConcernSelector normalizes the TOML-decoded writeConcern value
// (string or integer) for mongostore.WithWriteConcern.
func WriteConcernSelector(v any) any {
	switch t := v.(type) {
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
		return t
	default:
		return v
	}
}
