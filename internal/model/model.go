// Package model содержит доменные сущности сервиса расчётов по платежам.
package model

import "time"

// EventType описывает класс события платёжного провайдера.
type EventType string

const (
	EventCheckoutCompleted EventType = "checkout_completed"
	EventPaymentFailed     EventType = "payment_failed"
	EventOther             EventType = "other"
)

// Типы событий Stripe, которые обрабатывает сервис.
const (
	StripeCheckoutCompleted = "checkout.session.completed"
	StripePaymentFailed     = "payment_intent.payment_failed"
)

// PaymentEvent описывает проверенное уведомление платёжного провайдера.
type PaymentEvent struct {
	ID string
	// Type хранит нормализованный тип события, RawType исходную строку провайдера,
	// под которой событие хранится в журнале обработки.
	Type             EventType
	RawType          string
	SessionID        string
	PaymentReference string
	Metadata         map[string]string
	RawPayload       []byte
}

// ProcessingStatus описывает итог обработки события.
type ProcessingStatus string

const (
	ProcessingSuccess ProcessingStatus = "success"
	ProcessingFailed  ProcessingStatus = "failed"
)

// ProcessingRecord описывает запись журнала идемпотентности.
type ProcessingRecord struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	Status      ProcessingStatus `json:"status"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// TransactionType описывает вид изменения баланса баллов.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionSpend      TransactionType = "spend"
)

// PointsTransaction описывает запись аудита изменения баланса.
type PointsTransaction struct {
	ID               int64
	UserID           string
	Amount           int64
	Type             TransactionType
	Description      string
	PackageID        string
	PaymentReference string
	CreatedAt        time.Time
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order описывает оплаченную покупку корзины.
type Order struct {
	ID               string
	UserID           string
	TotalCents       int64
	PaymentReference string
	Status           OrderStatus
	Items            []OrderItem
	CreatedAt        time.Time
}

// OrderItem описывает позицию заказа с ценой на момент покупки.
type OrderItem struct {
	OrderID        string
	ProductID      string
	Quantity       int64
	UnitPriceCents int64
}

// CartItem описывает строку снимка корзины, переданного через метаданные сессии оплаты.
type CartItem struct {
	ProductID      string
	Quantity       int64
	UnitPriceCents int64
}
