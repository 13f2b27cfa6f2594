// Package checkpoint persists and retrieves the (database, parameter) ->
// cluster-timestamp rows that let a crashed run resume without re-applying
// more than a bounded window of already-applied events.
package checkpoint

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.mongosyncdb.dev/internal/clustertime"
	"go.mongosyncdb.dev/internal/common/repository"
	"go.mongosyncdb.dev/internal/mongostore"
)

// MetadataDatabase is the fixed database name on the target that holds the
// checkpoints collection.
const MetadataDatabase = "mongosyncdb"

// CollectionName is the fixed collection name within MetadataDatabase.
const CollectionName = "checkpoints"

// ResumeTimestampParameter is the only parameter the core writes today.
const ResumeTimestampParameter = "resumeTimestamp"

type row struct {
	Database  string `bson:"database"`
	Parameter string `bson:"parameter"`
	Seconds   uint32 `bson:"tsSeconds"`
	Ordinal   uint32 `bson:"tsOrdinal"`
}

// Store reads and writes checkpoint rows on the target.
type Store struct {
	collection   *mongo.Collection
	writeConcern any
}

// New returns a Store bound to the target's mongosyncdb.checkpoints
// collection, using writeConcern for every Save.
func New(client *mongo.Client, writeConcern any) *Store {
	coll := client.Database(MetadataDatabase).Collection(CollectionName)
	return &Store{collection: coll, writeConcern: writeConcern}
}

// EnsureIndexes creates the unique (database, parameter) index enforcing
// the at-most-one-row-per-key invariant.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "database", Value: 1}, {Key: "parameter", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("database_parameter"),
	}
	_, err := s.collection.Indexes().CreateOne(ctx, model)
	return err
}

// loadResult threads Load's two return values through
// repository.Instrument's single-value generic signature.
type loadResult struct {
	ts clustertime.T
	ok bool
}

// Load reads the resumeTimestamp row for database. ok is false if no
// checkpoint row exists yet.
func (s *Store) Load(ctx context.Context, database string) (clustertime.T, bool, error) {
	result, err := repository.Instrument(ctx, CollectionName, "load", func() (loadResult, error) {
		var r row
		filter := bson.D{{Key: "database", Value: database}, {Key: "parameter", Value: ResumeTimestampParameter}}
		err := s.collection.FindOne(ctx, filter).Decode(&r)
		if err == mongo.ErrNoDocuments {
			return loadResult{}, nil
		}
		if err != nil {
			return loadResult{}, err
		}
		return loadResult{ts: clustertime.T{Seconds: r.Seconds, Ordinal: r.Ordinal}, ok: true}, nil
	})
	return result.ts, result.ok, err
}

// Save upserts the resumeTimestamp row for database. Any failure is fatal
// to the caller: the applier cannot proceed without durable checkpoints.
func (s *Store) Save(ctx context.Context, database string, ts clustertime.T) error {
	return repository.InstrumentVoid(ctx, CollectionName, "save", func() error {
		coll := mongostore.WithWriteConcern(s.collection, s.writeConcern)
		filter := bson.D{{Key: "database", Value: database}, {Key: "parameter", Value: ResumeTimestampParameter}}
		update := bson.D{{Key: "$set", Value: bson.D{
			{Key: "database", Value: database},
			{Key: "parameter", Value: ResumeTimestampParameter},
			{Key: "tsSeconds", Value: ts.Seconds},
			{Key: "tsOrdinal", Value: ts.Ordinal},
		}}}
		_, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("save checkpoint for %s: %w", database, err)
		}
		return nil
	})
}

// Exists reports whether a checkpoint row is present for database,
// regardless of parameter; used by the cutover controller's fresh-load
// precondition.
func (s *Store) Exists(ctx context.Context, database string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{{Key: "database", Value: database}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
