package repository

import (
	"context"
	"errors"
	"time"

	"order-lifecycle-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoOrderRepository struct {
	col *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{col: db.Collection(OrdersCollection)}
}

func (m *MongoOrderRepository) Insert(ctx context.Context, o *model.Order) error {
	return insert(ctx, m.col, o)
}

func (m *MongoOrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	return findOne[model.Order](ctx, m.col, bson.M{"_id": id})
}

func (m *MongoOrderRepository) FindByOrderNumber(ctx context.Context, number string) (*model.Order, error) {
	return findOne[model.Order](ctx, m.col, bson.M{"order_number": number})
}

func (m *MongoOrderRepository) FindByStatus(ctx context.Context, status model.OrderStatus, limit int64) ([]*model.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return findMany[*model.Order](ctx, m.col, bson.M{"status": status}, opts)
}

// UpsertFromPayment returns the order created from paymentID's snapshot,
// inserting o only if no order for that payment exists yet.
func (m *MongoOrderRepository) UpsertFromPayment(ctx context.Context, paymentID string, o *model.Order) (*model.Order, error) {
	doc := *o
	doc.SourcePaymentID = "" // supplied by the filter on insert

	filter := bson.M{"source_payment_id": paymentID}
	update := bson.M{"$setOnInsert": doc}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var res model.Order
	err := m.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a concurrent upsert; the winner's document is there now.
		return findOne[model.Order](ctx, m.col, filter)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateStatus moves the order to status and appends rec to its history in
// one document update. With from empty any non-terminal, different status
// matches; otherwise the current status must be one of from. It reports
// whether the order changed.
func (m *MongoOrderRepository) UpdateStatus(ctx context.Context, id string, status model.OrderStatus, rec model.StatusRecord, from ...model.OrderStatus) (bool, error) {
	var cond bson.M
	if len(from) > 0 {
		cond = bson.M{"$in": from}
	} else {
		excluded := append([]model.OrderStatus{status}, model.TerminalOrderStatuses...)
		cond = bson.M{"$nin": excluded}
	}

	filter := bson.M{"_id": id, "status": cond}
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": rec.Timestamp,
		},
		"$push": bson.M{
			"status_history": rec,
		},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ClaimStockAdjustment sets stock_adjusted_at only when it is absent. Exactly
// one caller per order ever gets true.
func (m *MongoOrderRepository) ClaimStockAdjustment(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "stock_adjusted_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"stock_adjusted_at": at, "updated_at": at}}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// IsNotFound is a convenience for callers outside this package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
