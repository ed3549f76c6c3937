package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEventLedger keeps, per entity, the upstream event ids already applied.
// One document per (collection, entity) holds an append-only events array.
type MongoEventLedger struct {
	col *mongo.Collection
}

func NewMongoEventLedger(db *mongo.Database) *MongoEventLedger {
	return &MongoEventLedger{col: db.Collection(ProcessedEventsCollection)}
}

func ledgerKey(collection, entityID string) string {
	return collection + ":" + entityID
}

// Record appends eventID for the entity unless it is already there, in one
// conditional upsert. It reports false for an event seen before.
//
// The filter only matches a ledger that lacks eventID; if the ledger exists
// and already has it, the upsert tries to insert a second document with the
// same _id and fails with a duplicate key error. Two first events for one
// entity can also race on the insert, so the loser retries once against the
// document that now exists before reporting a replay.
func (m *MongoEventLedger) Record(ctx context.Context, collection, entityID, eventID string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":             ledgerKey(collection, entityID),
		"events.event_id": bson.M{"$ne": eventID},
	}
	update := bson.M{
		"$push": bson.M{"events": bson.M{"event_id": eventID, "received_at": at}},
		"$setOnInsert": bson.M{
			"collection": collection,
			"entity_id":  entityID,
		},
	}

	_, err := m.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if !mongo.IsDuplicateKeyError(err) {
		if err != nil {
			return false, err
		}
		return true, nil
	}

	res, err := m.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

// Forget removes eventID so a redelivery is evaluated again.
func (m *MongoEventLedger) Forget(ctx context.Context, collection, entityID, eventID string) error {
	_, err := m.col.UpdateOne(ctx,
		bson.M{"_id": ledgerKey(collection, entityID)},
		bson.M{"$pull": bson.M{"events": bson.M{"event_id": eventID}}},
	)
	return err
}
