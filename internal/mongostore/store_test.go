//go:build integration

package mongostore_test

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"go.mongosyncdb.dev/internal/mongostore"
	"go.mongosyncdb.dev/internal/mongostore/testutil"
)

func connect(ctx context.Context, t *testing.T, database string) (*testutil.Container, *mongostore.Endpoint) {
	t.Helper()

	container, err := testutil.StartMongoDB(ctx, t)
	if err != nil {
		t.Fatalf("start mongodb: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := mongostore.Connect(ctx, mongostore.ConnectConfig{
		Hostname: container.Hostname,
		Port:     container.Port,
		Database: database,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { endpoint.Disconnect(ctx) })

	return container, endpoint
}

func TestConnect_PingsSuccessfully(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if endpoint.Client == nil {
		t.Fatal("expected a connected client")
	}
}

func TestExists_FalseOnEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	exists, err := endpoint.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("expected a freshly connected database to not exist")
	}
}

func TestExists_TrueAfterInsert(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.InsertMany(ctx, "orders", []any{bson.M{"_id": 1}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	exists, err := endpoint.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("expected the database to exist after inserting a document")
	}
}

func TestListCollections_ExcludesViewsAndSystemCollections(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.InsertMany(ctx, "orders", []any{bson.M{"_id": 1}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if err := endpoint.CreateView(ctx, "orders_view", "orders", bson.A{}); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	names, err := endpoint.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}

	if len(names) != 1 || names[0] != "orders" {
		t.Errorf("expected exactly [orders], got %v", names)
	}
}

func TestListIndexes_ExcludesDefaultIDIndex(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.InsertMany(ctx, "orders", []any{bson.M{"_id": 1, "email": "a@example.com"}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if err := endpoint.CreateIndex(ctx, "orders", mongostore.IndexDescriptor{
		Keys: bson.D{{Key: "email", Value: 1}},
		Name: "email_1",
		Options: bson.M{"unique": true},
	}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	indexes, err := endpoint.ListIndexes(ctx, "orders")
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}

	if len(indexes) != 1 || indexes[0].Name != "email_1" {
		t.Errorf("expected exactly [email_1], got %v", indexes)
	}
}

func TestReplaceOneAndDeleteOne_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.ReplaceOne(ctx, "orders", 1, bson.M{"_id": 1, "status": "open"}, "majority"); err != nil {
		t.Fatalf("ReplaceOne: %v", err)
	}
	if err := endpoint.UpdateSet(ctx, "orders", 1, bson.M{"status": "closed"}, "majority"); err != nil {
		t.Fatalf("UpdateSet: %v", err)
	}
	if err := endpoint.DeleteOne(ctx, "orders", 1, "majority"); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}

	// Idempotent replay: deleting again must not error.
	if err := endpoint.DeleteOne(ctx, "orders", 1, "majority"); err != nil {
		t.Errorf("expected second delete to be a no-op, got %v", err)
	}
}

func TestRenameCollection_AndCollectionExists(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.InsertMany(ctx, "orders_old", []any{bson.M{"_id": 1}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	if err := endpoint.RenameCollection(ctx, "orders_old", "orders_new"); err != nil {
		t.Fatalf("RenameCollection: %v", err)
	}

	oldExists, err := endpoint.CollectionExists(ctx, "orders_old")
	if err != nil {
		t.Fatalf("CollectionExists(old): %v", err)
	}
	newExists, err := endpoint.CollectionExists(ctx, "orders_new")
	if err != nil {
		t.Fatalf("CollectionExists(new): %v", err)
	}

	if oldExists {
		t.Error("expected old collection name to no longer exist")
	}
	if !newExists {
		t.Error("expected new collection name to exist")
	}
}

func TestLatestOplogEntry_ReturnsNonZeroTimestamp(t *testing.T) {
	ctx := context.Background()
	_, endpoint := connect(ctx, t, "orders")

	if err := endpoint.InsertMany(ctx, "orders", []any{bson.M{"_id": 1}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	ts, err := endpoint.LatestOplogEntry(ctx)
	if err != nil {
		t.Fatalf("LatestOplogEntry: %v", err)
	}
	if ts.Seconds == 0 {
		t.Error("expected a non-zero oplog timestamp after an insert")
	}
}

func TestWatch_EmitsInsertEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, endpoint := connect(context.Background(), t, "orders")

	startTS, err := endpoint.LatestOplogEntry(context.Background())
	if err != nil {
		t.Fatalf("LatestOplogEntry: %v", err)
	}

	stream, err := endpoint.Watch(ctx, startTS.Next())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stream.Close(ctx)

	if err := endpoint.InsertMany(context.Background(), "orders", []any{bson.M{"_id": 1}}, "majority"); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	if !stream.Next(ctx) {
		t.Fatalf("expected a change event, stream ended with: %v", stream.Err())
	}

	var event mongostore.ChangeEvent
	if err := stream.Decode(&event); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.OperationType != "insert" {
		t.Errorf("expected operationType insert, got %q", event.OperationType)
	}
}
