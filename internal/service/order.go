package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/repository"
	"github.com/mmeshcher/content-settlement/internal/validation"
)

func newOrderID() string {
	return uuid.NewString()
}

// settleOrder создаёт завершённый заказ с позициями из снимка корзины.
// Сумма заказа всегда пересчитывается по позициям.
func (s *Service) settleOrder(ctx context.Context, log *zap.Logger, event *model.PaymentEvent, c CartPurchase) (string, error) {
	if len(c.Items) == 0 {
		return "", fmt.Errorf("%w: %v", ErrInvalidCart, validation.ErrEmptyCart)
	}

	total := validation.CartTotal(c.Items)
	if c.DeclaredTotal != nil && *c.DeclaredTotal != total {
		log.Warn("declared cart total differs from computed",
			zap.Int64("declared_cents", *c.DeclaredTotal),
			zap.Int64("computed_cents", total),
		)
	}

	order := &model.Order{
		ID:               s.newID(),
		UserID:           c.UserID,
		TotalCents:       total,
		PaymentReference: c.PaymentReference,
		Status:           model.OrderStatusCompleted,
	}

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		ids := uniqueProductIDs(c.Items)
		known, err := tx.KnownProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !known[id] {
				return fmt.Errorf("%w: %s", ErrUnknownProduct, id)
			}
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		items := make([]model.OrderItem, 0, len(c.Items))
		for _, it := range c.Items {
			items = append(items, model.OrderItem{
				OrderID:        order.ID,
				ProductID:      it.ProductID,
				Quantity:       it.Quantity,
				UnitPriceCents: it.UnitPriceCents,
			})
		}
		if err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}
		order.Items = items

		return tx.MarkProcessed(ctx, event.ID, event.RawType)
	})
	if err != nil {
		return "", fmt.Errorf("settle order: %w", err)
	}

	log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int64("total_cents", order.TotalCents),
		zap.Int("items", len(order.Items)),
	)
	return order.ID, nil
}

func uniqueProductIDs(items []model.CartItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
