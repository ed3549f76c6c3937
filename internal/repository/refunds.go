package repository

import (
	"context"
	"time"

	"order-lifecycle-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRefundRequestRepository struct {
	col *mongo.Collection
}

func NewMongoRefundRequestRepository(db *mongo.Database) *MongoRefundRequestRepository {
	return &MongoRefundRequestRepository{col: db.Collection(RefundRequestsCollection)}
}

func (m *MongoRefundRequestRepository) Insert(ctx context.Context, r *model.RefundRequest) error {
	return insert(ctx, m.col, r)
}

func (m *MongoRefundRequestRepository) FindByID(ctx context.Context, id string) (*model.RefundRequest, error) {
	return findOne[model.RefundRequest](ctx, m.col, bson.M{"_id": id})
}

// FindOpenByPaymentID returns a request for the payment that is not completed.
func (m *MongoRefundRequestRepository) FindOpenByPaymentID(ctx context.Context, paymentID string) (*model.RefundRequest, error) {
	return findOne[model.RefundRequest](ctx, m.col, bson.M{
		"payment_id": paymentID,
		"status":     bson.M{"$ne": model.RefundCompleted},
	})
}

func (m *MongoRefundRequestRepository) Approve(ctx context.Context, id, approver string, approvedAt, dueAt time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": model.RefundPendingApproval}
	update := bson.M{"$set": bson.M{
		"status":        model.RefundApproved,
		"approved_by":   approver,
		"approved_at":   approvedAt,
		"refund_due_at": dueAt,
		"updated_at":    approvedAt,
	}}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (m *MongoRefundRequestRepository) FindDue(ctx context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.RefundRequest, error) {
	filter := bson.M{
		"status":        model.RefundApproved,
		"refund_due_at": bson.M{"$lte": now},
		"attempt_count": bson.M{"$lt": maxAttempts},
	}
	opts := options.Find().SetSort(bson.D{{Key: "refund_due_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return findMany[*model.RefundRequest](ctx, m.col, filter, opts)
}

func (m *MongoRefundRequestRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": model.RefundApproved}
	update := bson.M{
		"$set":   bson.M{"status": model.RefundCompleted, "completed_at": at, "updated_at": at},
		"$unset": bson.M{"last_error": ""},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// RecordAttemptFailure counts one failed attempt, guarded on the attempt
// count the caller read.
func (m *MongoRefundRequestRepository) RecordAttemptFailure(ctx context.Context, id string, expectedAttempts int, lastErr string) (bool, error) {
	filter := bson.M{"_id": id, "status": model.RefundApproved, "attempt_count": expectedAttempts}
	update := bson.M{
		"$inc": bson.M{"attempt_count": 1},
		"$set": bson.M{"last_error": lastErr, "updated_at": time.Now().UTC()},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}
