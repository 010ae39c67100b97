package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/model"
)

// settleFailure помечает ожидающие заказы по платёжной ссылке как неуспешные.
// Ошибки обновления не влияют на ответ провайдеру.
func (s *Service) settleFailure(ctx context.Context, log *zap.Logger, event *model.PaymentEvent, f PaymentFailure) error {
	if f.PaymentReference == "" {
		log.Warn("payment failure without payment reference")
		return s.recordSuccess(ctx, event)
	}

	n, err := s.repo.FailPendingOrders(ctx, f.PaymentReference)
	if err != nil {
		log.Error("failed to mark pending orders as failed",
			zap.String("payment_reference", f.PaymentReference),
			zap.Error(err),
		)
	} else {
		log.Info("payment failed", zap.String("payment_reference", f.PaymentReference), zap.Int64("orders", n))
	}

	return s.recordSuccess(ctx, event)
}
