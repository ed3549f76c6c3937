package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

const (
	PaymentsCollection        = "payments"
	OrdersCollection          = "orders"
	ShipmentsCollection       = "shipments"
	RefundRequestsCollection  = "refund_requests"
	ProductsCollection        = "products"
	ProcessedEventsCollection = "processed_events"
)

// EnsureIndexes creates the indexes the reconciliation queries and the
// uniqueness guards rely on. Safe to call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		PaymentsCollection: {
			{Keys: bson.D{{Key: "provider_order_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "order_id", Value: 1}}},
		},
		OrdersCollection: {
			{Keys: bson.D{{Key: "order_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "source_payment_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		ShipmentsCollection: {
			{Keys: bson.D{{Key: "order_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "awb_number", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "failure.next_retry_after", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		RefundRequestsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "refund_due_at", Value: 1}}},
			{Keys: bson.D{{Key: "payment_id", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func findMany[T any](ctx context.Context, col *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []T
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}

func findOne[T any](ctx context.Context, col *mongo.Collection, filter any) (*T, error) {
	var res T
	err := col.FindOne(ctx, filter).Decode(&res)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func insert(ctx context.Context, col *mongo.Collection, doc any) error {
	_, err := col.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}
