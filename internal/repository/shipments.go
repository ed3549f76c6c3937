package repository

import (
	"context"
	"time"

	"order-lifecycle-service/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoShipmentRepository struct {
	col *mongo.Collection
}

func NewMongoShipmentRepository(db *mongo.Database) *MongoShipmentRepository {
	return &MongoShipmentRepository{col: db.Collection(ShipmentsCollection)}
}

// Insert fails with ErrAlreadyExists when the order already has a shipment
// document (unique order_id).
func (m *MongoShipmentRepository) Insert(ctx context.Context, s *model.Shipment) error {
	return insert(ctx, m.col, s)
}

func (m *MongoShipmentRepository) FindByID(ctx context.Context, id string) (*model.Shipment, error) {
	return findOne[model.Shipment](ctx, m.col, bson.M{"_id": id})
}

func (m *MongoShipmentRepository) FindByOrderID(ctx context.Context, orderID string) (*model.Shipment, error) {
	return findOne[model.Shipment](ctx, m.col, bson.M{"order_id": orderID})
}

func (m *MongoShipmentRepository) FindByAWB(ctx context.Context, awb string) (*model.Shipment, error) {
	return findOne[model.Shipment](ctx, m.col, bson.M{"awb_number": awb})
}

// FindDueForRetry selects failed placeholders whose retry time has passed and
// that still have attempts left, oldest first.
func (m *MongoShipmentRepository) FindDueForRetry(ctx context.Context, now time.Time, maxAttempts int, limit int64) ([]*model.Shipment, error) {
	filter := bson.M{
		"failure":                  bson.M{"$exists": true},
		"failure.next_retry_after": bson.M{"$lte": now},
		"failure.retry_count":      bson.M{"$lt": maxAttempts},
	}
	opts := options.Find().SetSort(bson.D{{Key: "failure.next_retry_after", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return findMany[*model.Shipment](ctx, m.col, filter, opts)
}

// ListAwaitingCarrier returns every failed placeholder, including exhausted
// ones waiting for a manual retry.
func (m *MongoShipmentRepository) ListAwaitingCarrier(ctx context.Context, limit int64) ([]*model.Shipment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failure.failed_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return findMany[*model.Shipment](ctx, m.col, bson.M{"failure": bson.M{"$exists": true}}, opts)
}

// ResolveFailure turns a failed placeholder into a live shipment in status
// new. Reports false if the shipment was not (or no longer) a placeholder.
func (m *MongoShipmentRepository) ResolveFailure(ctx context.Context, id string, d model.CarrierDetails, ev model.ShipmentEvent) (bool, error) {
	filter := bson.M{"_id": id, "failure": bson.M{"$exists": true}}
	update := bson.M{
		"$set": bson.M{
			"status":              model.ShipmentNew,
			"carrier_order_id":    d.CarrierOrderID,
			"carrier_shipment_id": d.CarrierShipmentID,
			"awb_number":          d.AWBNumber,
			"courier_name":        d.CourierName,
			"tracking_url":        d.TrackingURL,
			"updated_at":          ev.ReceivedAt,
		},
		"$unset": bson.M{"failure": ""},
		"$push":  bson.M{"event_history": ev},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// RecordFailure replaces the failure bookkeeping, guarded on the retry count
// the caller read so two overlapping workers cannot both count one attempt.
func (m *MongoShipmentRepository) RecordFailure(ctx context.Context, id string, expectedRetryCount int, f model.ShipmentFailure, ev model.ShipmentEvent) (bool, error) {
	filter := bson.M{"_id": id, "failure.retry_count": expectedRetryCount}
	update := bson.M{
		"$set":  bson.M{"failure": f, "updated_at": ev.ReceivedAt},
		"$push": bson.M{"event_history": ev},
	}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// UpdateStatus moves a live shipment from -> to and appends ev.
func (m *MongoShipmentRepository) UpdateStatus(ctx context.Context, id string, from, to model.ShipmentStatus, ev model.ShipmentEvent) (bool, error) {
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

func (m *MongoShipmentRepository) AppendEvent(ctx context.Context, id string, ev model.ShipmentEvent) error {
	_, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"event_history": ev},
		"$set":  bson.M{"updated_at": ev.ReceivedAt},
	})
	return err
}

// SetAWB stores a late AWB assignment on a live shipment.
func (m *MongoShipmentRepository) SetAWB(ctx context.Context, id, awb, courier, trackingURL string) error {
	set := bson.M{"awb_number": awb, "tracking_url": trackingURL, "updated_at": time.Now().UTC()}
	if courier != "" {
		set["courier_name"] = courier
	}
	_, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}
