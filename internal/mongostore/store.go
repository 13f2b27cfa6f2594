// Package mongostore is the thin wrapper over the document-store driver:
// connection, collection handles, oplog read, change-stream open, and index
// introspection. It does not retry; retry is a policy decision left to
// callers (the snapshot engine and the applier).
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/common/repository"
)

// Endpoint is a connected handle to one deployment (source or target),
// scoped to the logical database this run replicates.
type Endpoint struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// ConnectConfig carries the parameters needed to dial one endpoint.
type ConnectConfig struct {
	Hostname string
	Port     int
	Username string
	Password string
	Database string
}

// Connect dials a deployment and authenticates against the admin
// authentication source, per the configured connection parameters.
func Connect(ctx context.Context, cfg ConnectConfig) (*Endpoint, error) {
	uri := fmt.Sprintf("mongodb://%s:%d/?authSource=admin", cfg.Hostname, cfg.Port)

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		clientOpts.SetAuth(options.Credential{
			AuthSource: "admin",
			Username:   cfg.Username,
			Password:   cfg.Password,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", cfg.Hostname, cfg.Port, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping %s:%d: %w", cfg.Hostname, cfg.Port, err)
	}

	return &Endpoint{
		Client: client,
		DB:     client.Database(cfg.Database),
	}, nil
}

// Disconnect closes the underlying client connection. Best effort: called
// on both the clean-shutdown and fatal-error paths.
func (e *Endpoint) Disconnect(ctx context.Context) error {
	if e == nil || e.Client == nil {
		return nil
	}
	return e.Client.Disconnect(ctx)
}

// Exists reports whether the endpoint's database has been materialized
// (has at least one collection), used to enforce the fresh-load
// precondition that the target database must not already exist.
func (e *Endpoint) Exists(ctx context.Context) (bool, error) {
	names, err := e.DB.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func writeConcernFromSelector(selector any) *writeconcern.WriteConcern {
	switch v := selector.(type) {
	case int:
		return writeconcern.W(v)
	case int64:
		return writeconcern.W(int(v))
	case string:
		if v == "majority" {
			return writeconcern.Majority()
		}
		return writeconcern.WTagSet(v)
	default:
		return writeconcern.Majority()
	}
}

// WithWriteConcern returns db's collection handle using the configured
// write-concern selector, for use by every mutating operation in the
// snapshot engine and applier.
func WithWriteConcern(coll *mongo.Collection, selector any) *mongo.Collection {
	return coll.Database().Collection(coll.Name(), options.Collection().SetWriteConcern(writeConcernFromSelector(selector)))
}

// CollectionDescriptor is the transient, snapshot-time record of a source
// collection's shape: its estimated size and index set, or (for views) its
// defining pipeline.
type CollectionDescriptor struct {
	Name       string
	IsView     bool
	ViewOn     string
	Pipeline   bson.A
	Indexes    []IndexDescriptor
	EstCount   int64
}

// IndexDescriptor is one index definition, keys in declared order plus the
// name and every other option the document store reports (minus key/ns and
// the index version v, which are mechanical and rebuilt by the target on
// creation).
type IndexDescriptor struct {
	Keys    bson.D
	Name    string
	Options bson.M
}

// ListCollections enumerates non-system, non-view collections on the
// source; the set the snapshot engine copies.
func (e *Endpoint) ListCollections(ctx context.Context) ([]string, error) {
	filter := bson.D{
		{Key: "type", Value: "collection"},
		{Key: "name", Value: bson.D{{Key: "$nin", Value: bson.A{"system.profile", "system.views"}}}},
	}
	cursor, err := e.DB.ListCollections(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var names []string
	for cursor.Next(ctx) {
		var doc struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		names = append(names, doc.Name)
	}
	return names, cursor.Err()
}

// ListViews enumerates source views, reporting the viewOn source and
// pipeline the target recreates them with.
func (e *Endpoint) ListViews(ctx context.Context) ([]CollectionDescriptor, error) {
	cursor, err := e.DB.ListCollections(ctx, bson.D{{Key: "type", Value: "view"}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []CollectionDescriptor
	for cursor.Next(ctx) {
		var doc struct {
			Name    string `bson:"name"`
			Options struct {
				ViewOn   string `bson:"viewOn"`
				Pipeline bson.A `bson:"pipeline"`
			} `bson:"options"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		views = append(views, CollectionDescriptor{
			Name:     doc.Name,
			IsView:   true,
			ViewOn:   doc.Options.ViewOn,
			Pipeline: doc.Options.Pipeline,
		})
	}
	return views, cursor.Err()
}

// ListIndexes returns every index defined on the named collection other
// than the automatic _id_ index, which the target creates on its own.
func (e *Endpoint) ListIndexes(ctx context.Context, collection string) ([]IndexDescriptor, error) {
	cursor, err := e.DB.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var indexes []IndexDescriptor
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		name, _ := raw["name"].(string)
		if name == "_id_" {
			continue
		}

		// Decode the key spec separately into bson.D: raw is a map, so its
		// nested key document would lose the declared field order.
		var keySpec struct {
			Key bson.D `bson:"key"`
		}
		if err := cursor.Decode(&keySpec); err != nil {
			return nil, err
		}
		keys := keySpec.Key

		opts := bson.M{}
		for k, v := range raw {
			if k == "key" || k == "ns" || k == "name" || k == "v" {
				continue
			}
			opts[k] = v
		}

		indexes = append(indexes, IndexDescriptor{Keys: keys, Name: name, Options: opts})
	}
	return indexes, cursor.Err()
}

// EstimatedDocumentCount reports the collection's fast approximate size,
// used both to decide whether the empty-collection placeholder path
// applies and to compute copy progress percentage.
func (e *Endpoint) EstimatedDocumentCount(ctx context.Context, collection string) (int64, error) {
	return e.DB.Collection(collection).EstimatedDocumentCount(ctx)
}

// LatestOplogEntry returns the cluster timestamp of the most recent
// committed operation, the anchor the snapshot engine captures before any
// copy begins. Returns an error if the oplog is empty; the caller treats
// this as fatal, since the change stream would have no anchor.
func (e *Endpoint) LatestOplogEntry(ctx context.Context) (clustertime.T, error) {
	oplog := e.Client.Database("local").Collection("oplog.rs")

	var entry struct {
		Ts primitive.Timestamp `bson:"ts"`
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	err := oplog.FindOne(ctx, bson.D{}, opts).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return clustertime.T{}, fmt.Errorf("oplog is empty, no anchor timestamp available")
		}
		return clustertime.T{}, err
	}

	return clustertime.T{Seconds: entry.Ts.T, Ordinal: entry.Ts.I}, nil
}

// Instrument wraps a store operation with the shared database-operation
// metrics and logging used across the module.
func Instrument[T any](ctx context.Context, collection, operation string, fn func() (T, error)) (T, error) {
	return repository.Instrument(ctx, collection, operation, fn)
}
