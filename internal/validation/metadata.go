// Package validation содержит функции проверки метаданных платёжной сессии.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/content-settlement/internal/model"
)

var (
	// ErrEmptyCart возвращается, если снимок корзины пуст.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrMalformedCart возвращается, если снимок корзины не является JSON-массивом позиций.
	ErrMalformedCart = errors.New("cart items are malformed")
	// ErrInvalidCartItem возвращается для позиции с некорректными полями.
	ErrInvalidCartItem = errors.New("invalid cart item")
)

// IsValidUserID проверяет, что идентификатор пользователя является UUID.
func IsValidUserID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ParsePoints разбирает количество баллов из строкового значения метаданных.
// Допустимо только положительное целое число.
func ParsePoints(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("points value is empty")
	}

	points, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse points %q: %w", raw, err)
	}
	if points <= 0 {
		return 0, fmt.Errorf("points must be positive, got %d", points)
	}

	return points, nil
}

type cartItemJSON struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	PriceCents     *int64 `json:"price_cents"`
	UnitPriceCents *int64 `json:"unit_price_cents"`
}

// ParseCartItems разбирает снимок корзины из метаданных. Порядок позиций сохраняется.
// Корзина, сумма которой не помещается в int64, отклоняется, поэтому CartTotal
// для её результата не переполняется.
// Цена принимается из поля price_cents, а при его отсутствии из unit_price_cents.
func ParseCartItems(raw string) ([]model.CartItem, error) {
	var decoded []cartItemJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCart, err)
	}

	if len(decoded) == 0 {
		return nil, ErrEmptyCart
	}

	var total int64
	items := make([]model.CartItem, 0, len(decoded))
	for i, it := range decoded {
		productID := strings.TrimSpace(it.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d has no product_id", ErrInvalidCartItem, i)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d has quantity %d", ErrInvalidCartItem, i, it.Quantity)
		}

		var price int64
		switch {
		case it.PriceCents != nil:
			price = *it.PriceCents
		case it.UnitPriceCents != nil:
			price = *it.UnitPriceCents
		default:
			return nil, fmt.Errorf("%w: line %d has no price", ErrInvalidCartItem, i)
		}
		if price < 0 {
			return nil, fmt.Errorf("%w: line %d has negative price", ErrInvalidCartItem, i)
		}
		if price != 0 && it.Quantity > math.MaxInt64/price {
			return nil, fmt.Errorf("%w: line %d amount overflows", ErrInvalidCartItem, i)
		}
		amount := price * it.Quantity
		if total > math.MaxInt64-amount {
			return nil, fmt.Errorf("%w: cart total overflows at line %d", ErrInvalidCartItem, i)
		}
		total += amount

		items = append(items, model.CartItem{
			ProductID:      productID,
			Quantity:       it.Quantity,
			UnitPriceCents: price,
		})
	}

	return items, nil
}

// CartTotal вычисляет сумму корзины в центах: Σ цена × количество.
func CartTotal(items []model.CartItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitPriceCents * it.Quantity
	}
	return total
}
