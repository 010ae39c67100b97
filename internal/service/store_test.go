package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/repository"
)

// memStore хранит данные в памяти. InTx выполняется под
// блокировкой и откатывает состояние при ошибке fn.
type memStore struct {
	mu sync.Mutex

	balances map[string]int64
	txns     []model.PointsTransaction
	products map[string]bool
	orders   []model.Order
	items    []model.OrderItem
	events   map[string]model.ProcessingStatus

	insertTxnErr    error
	hasProcessedErr error
	failPendingErr  error
	recordCalls     []model.ProcessingStatus
	txCount         int
}

func newMemStore(products ...string) *memStore {
	s := &memStore{
		balances: map[string]int64{},
		products: map[string]bool{},
		events:   map[string]model.ProcessingStatus{},
	}
	for _, p := range products {
		s.products[p] = true
	}
	return s
}

func eventKey(eventID, eventType string) string {
	return eventID + "|" + eventType
}

func (s *memStore) Close() error                   { return nil }
func (s *memStore) Ping(ctx context.Context) error { return nil }

func (s *memStore) HasProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasProcessedErr != nil {
		return false, s.hasProcessedErr
	}
	return s.events[eventKey(eventID, eventType)] == model.ProcessingSuccess, nil
}

func (s *memStore) RecordOutcome(ctx context.Context, eventID, eventType string, status model.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls = append(s.recordCalls, status)

	key := eventKey(eventID, eventType)
	if _, ok := s.events[key]; ok && status == model.ProcessingFailed {
		return nil
	}
	s.events[key] = status
	return nil
}

type memSnapshot struct {
	balances map[string]int64
	txns     []model.PointsTransaction
	orders   []model.Order
	items    []model.OrderItem
	events   map[string]model.ProcessingStatus
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		balances: make(map[string]int64, len(s.balances)),
		txns:     append([]model.PointsTransaction(nil), s.txns...),
		orders:   append([]model.Order(nil), s.orders...),
		items:    append([]model.OrderItem(nil), s.items...),
		events:   make(map[string]model.ProcessingStatus, len(s.events)),
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.balances = snap.balances
	s.txns = snap.txns
	s.orders = snap.orders
	s.items = snap.items
	s.events = snap.events
}

func (s *memStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) FailPendingOrders(ctx context.Context, paymentReference string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPendingErr != nil {
		return 0, s.failPendingErr
	}

	var n int64
	for i := range s.orders {
		if s.orders[i].PaymentReference == paymentReference && s.orders[i].Status == model.OrderStatusPending {
			s.orders[i].Status = model.OrderStatusFailed
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *memStore) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		for _, it := range s.items {
			if it.OrderID == o.ID {
				o.Items = append(o.Items, it)
			}
		}
		res = append(res, o)
	}
	return res, nil
}

func (s *memStore) GetPointsTransactionsByUser(ctx context.Context, userID string) ([]model.PointsTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.PointsTransaction
	for _, t := range s.txns {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (s *memStore) ListProcessingRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.ProcessingRecord, 0, limit)
	for i := 0; i < limit; i++ {
		res = append(res, model.ProcessingRecord{EventID: fmt.Sprintf("evt_%d", i)})
	}
	return res, nil
}

func (s *memStore) balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) status(eventID, eventType string) (model.ProcessingStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.events[eventKey(eventID, eventType)]
	return st, ok
}

// memTx работает с состоянием memStore, блокировка которого уже захвачена InTx.
type memTx struct {
	s *memStore
}

func (t *memTx) IncrementBalance(ctx context.Context, userID string, delta int64) error {
	t.s.balances[userID] += delta
	return nil
}

func (t *memTx) InsertPointsTransaction(ctx context.Context, pt *model.PointsTransaction) error {
	if t.s.insertTxnErr != nil {
		return t.s.insertTxnErr
	}
	if pt.PaymentReference != "" && pt.Type == model.TransactionPurchase {
		for _, existing := range t.s.txns {
			if existing.Type == model.TransactionPurchase && existing.PaymentReference == pt.PaymentReference {
				return fmt.Errorf("%w: %s", repository.ErrPaymentSettled, pt.PaymentReference)
			}
		}
	}
	pt.ID = int64(len(t.s.txns) + 1)
	t.s.txns = append(t.s.txns, *pt)
	return nil
}

func (t *memTx) KnownProducts(ctx context.Context, ids []string) (map[string]bool, error) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		if t.s.products[id] {
			known[id] = true
		}
	}
	return known, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.PaymentReference != "" {
		for _, existing := range t.s.orders {
			if existing.PaymentReference == o.PaymentReference {
				return fmt.Errorf("%w: %s", repository.ErrPaymentSettled, o.PaymentReference)
			}
		}
	}
	stored := *o
	stored.Items = nil
	t.s.orders = append(t.s.orders, stored)
	return nil
}

func (t *memTx) InsertOrderItems(ctx context.Context, items []model.OrderItem) error {
	t.s.items = append(t.s.items, items...)
	return nil
}

func (t *memTx) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	key := eventKey(eventID, eventType)
	if t.s.events[key] == model.ProcessingSuccess {
		return fmt.Errorf("%w: %s", repository.ErrEventProcessed, eventID)
	}
	t.s.events[key] = model.ProcessingSuccess
	return nil
}
