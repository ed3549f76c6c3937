package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoProductRepository struct {
	col *mongo.Collection
}

func NewMongoProductRepository(db *mongo.Database) *MongoProductRepository {
	return &MongoProductRepository{col: db.Collection(ProductsCollection)}
}

// DecrementStock subtracts qty only if at least qty is in stock. It reports
// false when the product is missing or short.
func (m *MongoProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	filter := bson.M{"_id": productID, "stock": bson.M{"$gte": qty}}
	update := bson.M{"$inc": bson.M{"stock": -qty}}

	res, err := m.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}
