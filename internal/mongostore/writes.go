package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReplaceOne upserts doc under its _id; the target mutation for both the
// insert and replace event shapes, since repeated insert of the same _id
// becomes an identity replace.
func (e *Endpoint) ReplaceOne(ctx context.Context, collection string, id any, doc bson.M, writeConcern any) error {
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	_, err := coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	return err
}

// UpdateSet applies a $set of the given fields to the document with id.
func (e *Endpoint) UpdateSet(ctx context.Context, collection string, id any, fields bson.M, writeConcern any) error {
	if len(fields) == 0 {
		return nil
	}
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	_, err := coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: fields}})
	return err
}

// UpdateUnset removes the named fields from the document with id, one
// $unset per removed field per the spec's dispatch table.
func (e *Endpoint) UpdateUnset(ctx context.Context, collection string, id any, field string, writeConcern any) error {
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	_, err := coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$unset", Value: bson.M{field: 1}}})
	return err
}

// DeleteOne removes the document with id; a second delete of the same id
// is a no-op, so the operation is idempotent under replay.
func (e *Endpoint) DeleteOne(ctx context.Context, collection string, id any, writeConcern any) error {
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	_, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	return err
}

// RenameCollection renames a collection within the same database.
func (e *Endpoint) RenameCollection(ctx context.Context, from, to string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: e.DB.Name() + "." + from},
		{Key: "to", Value: e.DB.Name() + "." + to},
	}
	return e.Client.Database("admin").RunCommand(ctx, cmd).Err()
}

// CollectionExists reports whether name is present on the endpoint,
// used by the applier to detect an already-completed rename replay.
func (e *Endpoint) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := e.DB.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// InsertPlaceholder materializes an empty collection on the target: some
// drivers do not create a collection on first index, so the snapshot
// engine inserts then deletes a placeholder document to force creation.
func (e *Endpoint) InsertPlaceholder(ctx context.Context, collection string, writeConcern any) error {
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	res, err := coll.InsertOne(ctx, bson.M{})
	if err != nil {
		return err
	}
	_, err = coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: res.InsertedID}})
	return err
}

// InsertMany bulk-inserts a batch of already-decoded documents.
func (e *Endpoint) InsertMany(ctx context.Context, collection string, docs []any, writeConcern any) error {
	if len(docs) == 0 {
		return nil
	}
	coll := WithWriteConcern(e.DB.Collection(collection), writeConcern)
	_, err := coll.InsertMany(ctx, docs)
	return err
}

// CreateIndex issues createIndexes for a single index descriptor.
func (e *Endpoint) CreateIndex(ctx context.Context, collection string, idx IndexDescriptor) error {
	model := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: indexOptionsFromMap(idx.Name, idx.Options),
	}
	_, err := e.DB.Collection(collection).Indexes().CreateOne(ctx, model)
	return err
}

func indexOptionsFromMap(name string, m bson.M) *options.IndexOptions {
	opts := options.Index().SetName(name)
	if v, ok := m["unique"].(bool); ok {
		opts.SetUnique(v)
	}
	if v, ok := m["sparse"].(bool); ok {
		opts.SetSparse(v)
	}
	if v, ok := m["expireAfterSeconds"]; ok {
		if secs, ok := toInt32(v); ok {
			opts.SetExpireAfterSeconds(secs)
		}
	}
	if v, ok := m["partialFilterExpression"].(bson.M); ok {
		opts.SetPartialFilterExpression(v)
	}
	return opts
}

func toInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

// CreateView recreates a view definition on the target, dropping any
// existing collection or view of the same name first.
func (e *Endpoint) CreateView(ctx context.Context, name, viewOn string, pipeline bson.A) error {
	exists, err := e.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if err := e.DB.Collection(name).Drop(ctx); err != nil {
			return err
		}
	}
	return e.DB.CreateView(ctx, name, viewOn, mongo.Pipeline(pipelineStages(pipeline)))
}

func pipelineStages(pipeline bson.A) []bson.D {
	stages := make([]bson.D, 0, len(pipeline))
	for _, stage := range pipeline {
		switch s := stage.(type) {
		case bson.D:
			stages = append(stages, s)
		case bson.M:
			d := bson.D{}
			for k, v := range s {
				d = append(d, bson.E{Key: k, Value: v})
			}
			stages = append(stages, d)
		}
	}
	return stages
}
