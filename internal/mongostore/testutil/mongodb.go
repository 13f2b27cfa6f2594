// Package testutil provides testing utilities for MongoDB integration
// tests: a disposable replica-set container every change-stream-dependent
// test needs, since change streams require a replica set even with a
// single member.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// Container wraps a single-node MongoDB replica-set container.
type Container struct {
	container *mongodb.MongoDBContainer
	Hostname  string
	Port      int
}

// StartMongoDB starts a MongoDB container with a one-member replica set
// enabled, the mode every test in this module needs: snapshot reads, oplog
// reads, and change-stream opens all require it.
func StartMongoDB(ctx context.Context, t *testing.T) (*Container, error) {
	t.Helper()

	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	if err != nil {
		return nil, fmt.Errorf("start mongodb container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &Container{
		container: container,
		Hostname:  host,
		Port:      port.Int(),
	}, nil
}

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	if c.container != nil {
		return c.container.Terminate(ctx)
	}
	return nil
}
