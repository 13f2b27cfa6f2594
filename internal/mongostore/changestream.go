package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.mongosyncdb.dev/internal/clustertime"
)

// ChangeEvent is the decoded shape of one change-stream document, carrying
// only the fields the applier's dispatch table needs.
type ChangeEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	DocumentKey   bson.M              `bson:"documentKey"`
	FullDocument  bson.M              `bson:"fullDocument"`
	NS            struct {
		Database   string `bson:"db"`
		Collection string `bson:"coll"`
	} `bson:"ns"`
	To struct {
		Database   string `bson:"db"`
		Collection string `bson:"coll"`
	} `bson:"to"`
	UpdateDescription struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

// Watch opens the change stream at startAtOperationTime with full-document
// lookup, so update events also carry the document's current post-image.
// The applier applies updates from updateDescription and inserts and
// replaces from their fullDocument.
func (e *Endpoint) Watch(ctx context.Context, start clustertime.T) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetStartAtOperationTime(ptr(start.ToPrimitive()))

	return e.DB.Watch(ctx, mongo.Pipeline{}, opts)
}

func ptr[T any](v T) *T { return &v }

// FindRawBatches returns a cursor over collection read in raw batches of
// batchSize documents, for the snapshot engine's bulk copy.
func (e *Endpoint) FindRawBatches(ctx context.Context, collection string, batchSize int32) (*mongo.Cursor, error) {
	opts := options.Find().SetBatchSize(batchSize)
	return e.DB.Collection(collection).Find(ctx, bson.D{}, opts)
}
