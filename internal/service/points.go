package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/repository"
)

// settlePoints начисляет баллы и пишет запись аудита в одной транзакции
// вместе с отметкой в журнале обработки.
func (s *Service) settlePoints(ctx context.Context, log *zap.Logger, event *model.PaymentEvent, p PointsPurchase) error {
	if p.Points <= 0 || p.UserID == "" {
		return fmt.Errorf("%w: points=%d", ErrInvalidData, p.Points)
	}

	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.IncrementBalance(ctx, p.UserID, p.Points); err != nil {
			return err
		}

		pt := &model.PointsTransaction{
			UserID:           p.UserID,
			Amount:           p.Points,
			Type:             model.TransactionPurchase,
			Description:      pointsDescription(p),
			PackageID:        p.PackageID,
			PaymentReference: p.PaymentReference,
		}
		if err := tx.InsertPointsTransaction(ctx, pt); err != nil {
			return err
		}

		return tx.MarkProcessed(ctx, event.ID, event.RawType)
	})
	if err != nil {
		return fmt.Errorf("settle points: %w", err)
	}

	log.Info("points credited",
		zap.String("user_id", p.UserID),
		zap.Int64("points", p.Points),
		zap.String("package_id", p.PackageID),
	)
	return nil
}

func pointsDescription(p PointsPurchase) string {
	if p.PackageID == "" {
		return fmt.Sprintf("Purchased %d points", p.Points)
	}
	return fmt.Sprintf("Purchased %d points (%s)", p.Points, p.PackageID)
}
