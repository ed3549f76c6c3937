package repository

import (
	"context"
	"time"

	"order-lifecycle-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoPaymentRepository struct {
	col *mongo.Collection
}

func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	return &MongoPaymentRepository{col: db.Collection(PaymentsCollection)}
}

func (m *MongoPaymentRepository) Insert(ctx context.Context, p *model.Payment) error {
	return insert(ctx, m.col, p)
}

func (m *MongoPaymentRepository) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	return findOne[model.Payment](ctx, m.col, bson.M{"_id": id})
}

func (m *MongoPaymentRepository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*model.Payment, error) {
	return findOne[model.Payment](ctx, m.col, bson.M{"provider_order_id": providerOrderID})
}

// ApplyUpdate writes a reconciled gateway notification: status fields are set
// and the events are appended to event_history in the same update.
func (m *MongoPaymentRepository) ApplyUpdate(ctx context.Context, id string, upd model.PaymentUpdate) error {
	set := bson.M{
		"status":          upd.Status,
		"provider_status": upd.ProviderStatus,
		"updated_at":      upd.UpdatedAt,
	}
	if upd.TransactionID != "" {
		set["provider_transaction_id"] = upd.TransactionID
	}
	if len(upd.Instrument) > 0 {
		set["instrument"] = upd.Instrument
	}

	res, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":  set,
		"$push": bson.M{"event_history": bson.M{"$each": upd.Events}},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMilestone records the first time a milestone was reached; later calls
// leave the stored time untouched and report false.
func (m *MongoPaymentRepository) SetMilestone(ctx context.Context, id string, milestone model.PaymentMilestone, at time.Time) (bool, error) {
	field := string(milestone)
	filter := bson.M{"_id": id, field: bson.M{"$exists": false}}

	res, err := m.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{field: at}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (m *MongoPaymentRepository) LinkOrder(ctx context.Context, id, orderID string) error {
	_, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"order_id": orderID, "updated_at": time.Now().UTC()},
	})
	return err
}

// TransitionStatus moves the payment from -> to only if it is still in from.
func (m *MongoPaymentRepository) TransitionStatus(ctx context.Context, id string, from, to model.PaymentStatus, ev model.PaymentEvent) (bool, error) {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{
		"$set":  bson.M{"status": to, "updated_at": ev.ReceivedAt},
		"$push": bson.M{"event_history": ev},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}
