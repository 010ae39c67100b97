// Package handler содержит HTTP-обработчики сервиса расчётов.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/middleware"
	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/ratelimit"
	"github.com/mmeshcher/content-settlement/internal/service"
)

const defaultSettlementTimeout = 10 * time.Second

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Process(ctx context.Context, event *model.PaymentEvent) (service.Result, error)
	Ping(ctx context.Context) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetUserOrders(ctx context.Context, userID string) ([]model.Order, error)
	GetUserTransactions(ctx context.Context, userID string) ([]model.PointsTransaction, error)
	RecentEvents(ctx context.Context, limit int) ([]model.ProcessingRecord, error)
}

// Verifier проверяет подпись входящего уведомления.
type Verifier interface {
	Verify(payload []byte, signature string) (*model.PaymentEvent, error)
}

// Options содержит необязательные зависимости обработчика.
type Options struct {
	Limiter           *ratelimit.Limiter
	AdminToken        string
	SettlementTimeout time.Duration
	Metrics           http.Handler
}

// Handler реализует HTTP-обработчики сервиса расчётов.
type Handler struct {
	service        Service
	verifier       Verifier
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, v Verifier, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = defaultSettlementTimeout
	}
	return &Handler{
		service:        s,
		verifier:       v,
		logger:         logger,
		authMiddleware: auth,
		opts:           opts,
	}
}

// Health проверяет доступность базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
