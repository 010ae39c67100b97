// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/content-settlement/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrEventProcessed возвращается, если событие уже успешно обработано другой доставкой.
	ErrEventProcessed = errors.New("event already processed")
	// ErrPaymentSettled возвращается, если по платёжной ссылке уже есть начисление или заказ.
	ErrPaymentSettled = errors.New("payment reference already settled")
)

// Tx описывает операции, выполняемые внутри одной транзакции расчёта.
type Tx interface {
	IncrementBalance(ctx context.Context, userID string, delta int64) error
	InsertPointsTransaction(ctx context.Context, t *model.PointsTransaction) error
	KnownProducts(ctx context.Context, ids []string) (map[string]bool, error)
	InsertOrder(ctx context.Context, o *model.Order) error
	InsertOrderItems(ctx context.Context, items []model.OrderItem) error
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет только чтения: запись расчёта повторяет сам провайдер повторной доставкой.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// HasProcessed сообщает, есть ли успешная запись обработки события.
// Запись со статусом failed не блокирует повторную доставку.
func (r *PostgresRepository) HasProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM webhook_events
			WHERE stripe_event_id = $1 AND event_type = $2 AND status = $3
		)`,
		eventID, eventType, string(model.ProcessingSuccess),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return exists, nil
}

// RecordOutcome сохраняет итог обработки события вне транзакции расчёта.
// Конфликт по ключу не считается ошибкой: success не перезаписывается,
// failed уступает место success. Это единственный случай изменения записи журнала
// на месте: запись failed не блокирует повторную доставку, иначе событие с временной
// ошибкой хранилища никогда не было бы обработано.
func (r *PostgresRepository) RecordOutcome(ctx context.Context, eventID, eventType string, status model.ProcessingStatus) error {
	query := `INSERT INTO webhook_events (stripe_event_id, event_type, status, processed_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (stripe_event_id, event_type) DO NOTHING`
	if status == model.ProcessingSuccess {
		query = upsertSuccessQuery
	}

	if _, err := r.pool.Exec(ctx, query, eventID, eventType, string(status)); err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

const upsertSuccessQuery = `INSERT INTO webhook_events (stripe_event_id, event_type, status, processed_at)
	 VALUES ($1, $2, $3, now())
	 ON CONFLICT (stripe_event_id, event_type) DO UPDATE
	 SET status = EXCLUDED.status, processed_at = EXCLUDED.processed_at
	 WHERE webhook_events.status <> EXCLUDED.status`

// InTx выполняет fn в одной транзакции. Любая ошибка fn откатывает все изменения.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FailPendingOrders переводит ожидающие заказы с указанной платёжной ссылкой в статус failed.
func (r *PostgresRepository) FailPendingOrders(ctx context.Context, paymentReference string) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = now()
		 WHERE stripe_payment_intent_id = $2 AND status = $3`,
		string(model.OrderStatusFailed), paymentReference, string(model.OrderStatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("fail pending orders: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// GetBalance возвращает баланс баллов пользователя. Отсутствие профиля означает нулевой баланс.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := r.withRetry(ctx, func() error {
		err := r.pool.QueryRow(ctx, `SELECT points FROM profiles WHERE id = $1`, userID).Scan(&points)
		if errors.Is(err, pgx.ErrNoRows) {
			points = 0
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return points, nil
}

// GetOrdersByUser возвращает заказы пользователя вместе с позициями, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	var orders []model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		orders, err = r.selectOrders(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *PostgresRepository) selectOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, user_id::text, total_cents, COALESCE(stripe_payment_intent_id, ''), status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	index := make(map[string]int)
	for rows.Next() {
		var (
			o      model.Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.PaymentReference, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	itemRows, err := r.pool.Query(ctx,
		`SELECT oi.order_id::text, oi.product_id, oi.quantity, oi.unit_price_cents
		 FROM order_items oi
		 JOIN orders o ON o.id = oi.order_id
		 WHERE o.user_id = $1
		 ORDER BY oi.order_id, oi.line_no`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it model.OrderItem
		if err := itemRows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[it.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetPointsTransactionsByUser возвращает историю изменений баланса пользователя.
func (r *PostgresRepository) GetPointsTransactionsByUser(ctx context.Context, userID string) ([]model.PointsTransaction, error) {
	var res []model.PointsTransaction
	err := r.withRetry(ctx, func() error {
		res = res[:0]
		rows, err := r.pool.Query(ctx,
			`SELECT id, user_id::text, amount, type, description,
			        COALESCE(package_id, ''), COALESCE(payment_reference, ''), created_at
			 FROM points_transactions
			 WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select points transactions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t   model.PointsTransaction
				typ string
			)
			if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &t.Description, &t.PackageID, &t.PaymentReference, &t.CreatedAt); err != nil {
				return fmt.Errorf("scan points transaction: %w", err)
			}
			t.Type = model.TransactionType(typ)
			res = append(res, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListProcessingRecords возвращает последние записи журнала обработки событий.
func (r *PostgresRepository) ListProcessingRecords(ctx context.Context, limit int) ([]model.ProcessingRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stripe_event_id, event_type, status, processed_at
		 FROM webhook_events
		 ORDER BY processed_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select webhook events: %w", err)
	}
	defer rows.Close()

	var res []model.ProcessingRecord
	for rows.Next() {
		var (
			rec    model.ProcessingRecord
			status string
		)
		if err := rows.Scan(&rec.EventID, &rec.EventType, &status, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		rec.Status = model.ProcessingStatus(status)
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

type pgTx struct {
	tx pgx.Tx
}

// IncrementBalance изменяет баланс, создавая профиль при первом начислении.
func (t *pgTx) IncrementBalance(ctx context.Context, userID string, delta int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO profiles (id, points) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET points = profiles.points + EXCLUDED.points, updated_at = now()`,
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	return nil
}

func (t *pgTx) InsertPointsTransaction(ctx context.Context, pt *model.PointsTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO points_transactions (user_id, amount, type, description, package_id, payment_reference)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		pt.UserID, pt.Amount, string(pt.Type), pt.Description, nullIfEmpty(pt.PackageID), nullIfEmpty(pt.PaymentReference),
	).Scan(&pt.ID, &pt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPaymentSettled, pt.PaymentReference)
		}
		return fmt.Errorf("insert points transaction: %w", err)
	}
	return nil
}

// KnownProducts возвращает множество существующих товаров из ids.
// Строки блокируются до конца транзакции, чтобы товар не исчез до записи заказа.
func (t *pgTx) KnownProducts(ctx context.Context, ids []string) (map[string]bool, error) {
	rows, err := t.tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) FOR SHARE`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		known[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return known, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, total_cents, stripe_payment_intent_id, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		o.ID, o.UserID, o.TotalCents, nullIfEmpty(o.PaymentReference), string(o.Status),
	).Scan(&o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrPaymentSettled, o.PaymentReference)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrderItems(ctx context.Context, items []model.OrderItem) error {
	batch := &pgx.Batch{}
	for i, it := range items {
		batch.Queue(
			`INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			it.OrderID, i, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// MarkProcessed записывает успешную обработку события в той же транзакции, что и расчёт.
// Если успешная запись уже есть, возвращается ErrEventProcessed и транзакция должна быть отменена.
func (t *pgTx) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	cmdTag, err := t.tx.Exec(ctx, upsertSuccessQuery, eventID, eventType, string(model.ProcessingSuccess))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventProcessed, eventID)
	}
	return nil
}
