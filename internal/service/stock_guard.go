package service

import (
	"context"
	"fmt"

	"order-lifecycle-service/internal/model"

	"go.uber.org/zap"
)

// StockGuard decrements inventory for an order at most once.
type StockGuard struct {
	orders   OrderRepository
	products ProductRepository
	logger   *zap.Logger
}

func NewStockGuard(orders OrderRepository, products ProductRepository, logger *zap.Logger) *StockGuard {
	return &StockGuard{orders: orders, products: products, logger: logger}
}

// Adjust claims the order's stock adjustment and, only if the claim is won,
// decrements every line. It reports whether this call did the decrement.
// Insufficient stock is logged and the remaining lines still run.
func (g *StockGuard) Adjust(ctx context.Context, o *model.Order) (bool, error) {
	won, err := g.orders.ClaimStockAdjustment(ctx, o.ID, utcNow())
	if err != nil {
		return false, fmt.Errorf("claim stock adjustment: %w", err)
	}
	if !won {
		g.logger.Debug("stock already adjusted", zap.String("order_id", o.ID))
		return false, nil
	}

	for _, it := range o.Items {
		if it.Quantity <= 0 || it.ProductID == "" {
			continue
		}
		ok, err := g.products.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			// The claim stays: a retry must not decrement the lines that did succeed.
			g.logger.Error("stock decrement failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", it.ProductID),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			g.logger.Warn("insufficient stock, order oversold",
				zap.String("order_id", o.ID),
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
			)
		}
	}
	return true, nil
}
