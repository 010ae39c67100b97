// Package service реализует расчёт платёжных событий: маршрутизацию, начисление баллов,
// оформление заказов и учёт неуспешных платежей.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/metrics"
	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/repository"
)

var (
	// ErrInvalidData возвращается при некорректных данных покупки баллов.
	ErrInvalidData = errors.New("invalid settlement data")
	// ErrInvalidCart возвращается при пустом или некорректном снимке корзины.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrUnknownProduct возвращается, если корзина ссылается на несуществующий товар.
	ErrUnknownProduct = errors.New("unknown product")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	HasProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	RecordOutcome(ctx context.Context, eventID, eventType string, status model.ProcessingStatus) error
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
	FailPendingOrders(ctx context.Context, paymentReference string) (int64, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	GetPointsTransactionsByUser(ctx context.Context, userID string) ([]model.PointsTransaction, error)
	ListProcessingRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error)
}

const recordFailureTimeout = 2 * time.Second

// Result описывает, как было обработано событие.
type Result struct {
	Kind      Kind
	Duplicate bool
	OrderID   string
}

// Service содержит бизнес-логику расчётов.
type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics *metrics.Settlement
	tracer  trace.Tracer
	newID   func() string
}

// NewService создаёт сервис расчётов. metrics может быть nil.
func NewService(repo Repository, logger *zap.Logger, m *metrics.Settlement) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("github.com/mmeshcher/content-settlement/internal/service"),
		newID:   newOrderID,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Process проводит проверенное событие через журнал идемпотентности, маршрутизатор и
// обработчик. Ошибка означает, что провайдер должен доставить событие повторно.
func (s *Service) Process(ctx context.Context, event *model.PaymentEvent) (Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "settlement.process", trace.WithAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.RawType),
	))
	defer span.End()

	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.RawType))

	res, err := s.process(ctx, log, event)

	span.SetAttributes(attribute.String("settlement.kind", string(res.Kind)), attribute.Bool("settlement.duplicate", res.Duplicate))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
	}
	s.metrics.Observe(string(res.Kind), outcomeLabel(res, err), time.Since(start))

	return res, err
}

func (s *Service) process(ctx context.Context, log *zap.Logger, event *model.PaymentEvent) (Result, error) {
	processed, err := s.repo.HasProcessed(ctx, event.ID, event.RawType)
	if err != nil {
		log.Error("idempotency check failed", zap.Error(err))
		s.recordFailure(ctx, log, event)
		return Result{Kind: KindUnknown}, fmt.Errorf("check idempotency: %w", err)
	}
	if processed {
		log.Info("duplicate webhook event ignored")
		return Result{Kind: KindUnknown, Duplicate: true}, nil
	}

	instr, err := Classify(event)
	if err != nil {
		log.Warn("settlement rejected", zap.Error(err))
		s.recordFailure(ctx, log, event)
		return Result{Kind: instr.kind()}, err
	}

	res := Result{Kind: instr.kind()}
	log.Info("processing webhook event", zap.String("kind", string(res.Kind)))

	switch in := instr.(type) {
	case PointsPurchase:
		err = s.settlePoints(ctx, log, event, in)
	case CartPurchase:
		res.OrderID, err = s.settleOrder(ctx, log, event, in)
	case PaymentFailure:
		err = s.settleFailure(ctx, log, event, in)
	case Unrecognized:
		log.Warn("unrecognized checkout session", zap.String("session_id", event.SessionID))
		err = s.recordSuccess(ctx, event)
	case Ignored:
		log.Info("unhandled event type")
		err = s.recordSuccess(ctx, event)
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, repository.ErrEventProcessed):
		log.Info("event settled by a concurrent delivery")
		res.Duplicate = true
		res.OrderID = ""
		return res, nil
	case errors.Is(err, repository.ErrPaymentSettled):
		log.Warn("payment already settled by another event", zap.String("payment_reference", event.PaymentReference))
		res.Duplicate = true
		res.OrderID = ""
		if recErr := s.recordSuccess(ctx, event); recErr != nil {
			log.Error("failed to record webhook event", zap.Error(recErr))
		}
		return res, nil
	}

	log.Error("error processing webhook", zap.Error(err))
	s.recordFailure(ctx, log, event)
	return res, err
}

// recordSuccess записывает итог для событий, чей обработчик не пишет журнал сам.
func (s *Service) recordSuccess(ctx context.Context, event *model.PaymentEvent) error {
	if err := s.repo.RecordOutcome(ctx, event.ID, event.RawType, model.ProcessingSuccess); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// recordFailure записывает неуспешный итог. Ошибка записи только логируется:
// провайдер всё равно получит ответ с ошибкой и доставит событие повторно.
// Запись выполняется и после истечения срока запроса.
func (s *Service) recordFailure(ctx context.Context, log *zap.Logger, event *model.PaymentEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordFailureTimeout)
	defer cancel()

	if err := s.repo.RecordOutcome(ctx, event.ID, event.RawType, model.ProcessingFailed); err != nil {
		log.Error("failed to record webhook event", zap.Error(err))
	}
}

func outcomeLabel(res Result, err error) string {
	switch {
	case err != nil:
		return string(model.ProcessingFailed)
	case res.Duplicate:
		return "duplicate"
	default:
		return string(model.ProcessingSuccess)
	}
}
