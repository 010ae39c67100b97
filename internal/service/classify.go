package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/content-settlement/internal/model"
	"github.com/mmeshcher/content-settlement/internal/validation"
)

// Kind описывает вид расчёта, выбранный маршрутизатором.
type Kind string

const (
	KindPoints       Kind = "points"
	KindOrder        Kind = "order"
	KindFailure      Kind = "failure"
	KindUnrecognized Kind = "unrecognized"
	KindIgnored      Kind = "ignored"
	KindUnknown      Kind = "unknown"
)

// Ключи метаданных, которые checkout кладёт в сессию оплаты.
const (
	metaUserID     = "user_id"
	metaPoints     = "points"
	metaPackageID  = "package_id"
	metaCartItems  = "cart_items"
	metaTotalCents = "total_cents"
)

// Instruction является результатом разбора метаданных события, ровно одним из
// PointsPurchase, CartPurchase, PaymentFailure, Unrecognized, Ignored.
type Instruction interface {
	kind() Kind
}

// PointsPurchase описывает покупку пакета баллов.
type PointsPurchase struct {
	UserID           string
	Points           int64
	PackageID        string
	PaymentReference string
}

// CartPurchase описывает покупку товаров из корзины.
type CartPurchase struct {
	UserID           string
	Items            []model.CartItem
	PaymentReference string
	// Сумма, заявленная клиентом. Для расчёта не используется.
	DeclaredTotal *int64
}

// PaymentFailure описывает уведомление о неуспешном платеже.
type PaymentFailure struct {
	PaymentReference string
}

// Unrecognized описывает завершённую сессию без данных о баллах и корзине.
type Unrecognized struct{}

// Ignored описывает событие, которое сервис не обрабатывает.
type Ignored struct{}

func (PointsPurchase) kind() Kind { return KindPoints }
func (CartPurchase) kind() Kind   { return KindOrder }
func (PaymentFailure) kind() Kind { return KindFailure }
func (Unrecognized) kind() Kind   { return KindUnrecognized }
func (Ignored) kind() Kind        { return KindIgnored }

// Classify выбирает обработчик для события. Инструкция возвращается всегда,
// в том числе вместе с ошибкой проверки данных.
func Classify(event *model.PaymentEvent) (Instruction, error) {
	switch event.Type {
	case model.EventCheckoutCompleted:
		md := event.Metadata
		if strings.TrimSpace(md[metaPoints]) != "" {
			return classifyPoints(event)
		}
		if strings.TrimSpace(md[metaCartItems]) != "" {
			return classifyCart(event)
		}
		return Unrecognized{}, nil

	case model.EventPaymentFailed:
		return PaymentFailure{PaymentReference: event.PaymentReference}, nil
	}

	return Ignored{}, nil
}

func classifyPoints(event *model.PaymentEvent) (Instruction, error) {
	md := event.Metadata
	userID := strings.TrimSpace(md[metaUserID])
	if !validation.IsValidUserID(userID) {
		return PointsPurchase{}, fmt.Errorf("%w: user_id %q", ErrInvalidData, userID)
	}

	points, err := validation.ParsePoints(md[metaPoints])
	if err != nil {
		return PointsPurchase{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return PointsPurchase{
		UserID:           userID,
		Points:           points,
		PackageID:        strings.TrimSpace(md[metaPackageID]),
		PaymentReference: event.PaymentReference,
	}, nil
}

func classifyCart(event *model.PaymentEvent) (Instruction, error) {
	md := event.Metadata
	userID := strings.TrimSpace(md[metaUserID])
	if !validation.IsValidUserID(userID) {
		return CartPurchase{}, fmt.Errorf("%w: user_id %q", ErrInvalidData, userID)
	}

	items, err := validation.ParseCartItems(md[metaCartItems])
	if err != nil {
		return CartPurchase{}, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}

	c := CartPurchase{
		UserID:           userID,
		Items:            items,
		PaymentReference: event.PaymentReference,
	}
	if raw := strings.TrimSpace(md[metaTotalCents]); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.DeclaredTotal = &v
		}
	}

	return c, nil
}
