package service

import (
	"context"

	"github.com/mmeshcher/content-settlement/internal/model"
)

const (
	defaultRecordsLimit = 20
	maxRecordsLimit     = 100
)

// GetBalance возвращает баланс баллов пользователя.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetUserOrders возвращает заказы пользователя.
func (s *Service) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetUserTransactions возвращает историю начислений пользователя.
func (s *Service) GetUserTransactions(ctx context.Context, userID string) ([]model.PointsTransaction, error) {
	return s.repo.GetPointsTransactionsByUser(ctx, userID)
}

// RecentEvents возвращает последние записи журнала обработки.
// limit вне диапазона 1..100 заменяется значением по умолчанию или ограничивается сверху.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultRecordsLimit
	case limit > maxRecordsLimit:
		limit = maxRecordsLimit
	}
	return s.repo.ListProcessingRecords(ctx, limit)
}
