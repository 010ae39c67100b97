package service

import (
	"errors"
	"testing"

	"github.com/mmeshcher/content-settlement/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		event    *model.PaymentEvent
		wantKind Kind
		wantErr  error
	}{
		{
			name:     "points take precedence over cart",
			event:    checkout(map[string]string{"user_id": testUser, "points": "10", "cart_items": `[{"product_id":"a","quantity":1,"price_cents":1}]`}),
			wantKind: KindPoints,
		},
		{
			name:     "cart",
			event:    checkout(map[string]string{"user_id": testUser, "cart_items": `[{"product_id":"a","quantity":1,"price_cents":1}]`}),
			wantKind: KindOrder,
		},
		{
			name:     "blank points falls through to cart",
			event:    checkout(map[string]string{"user_id": testUser, "points": "  ", "cart_items": `[{"product_id":"a","quantity":1,"price_cents":1}]`}),
			wantKind: KindOrder,
		},
		{
			name:     "neither",
			event:    checkout(map[string]string{"user_id": testUser}),
			wantKind: KindUnrecognized,
		},
		{
			name:     "cart with bad user",
			event:    checkout(map[string]string{"user_id": "", "cart_items": `[{"product_id":"a","quantity":1,"price_cents":1}]`}),
			wantKind: KindOrder,
			wantErr:  ErrInvalidData,
		},
		{
			name:     "payment failed",
			event:    &model.PaymentEvent{Type: model.EventPaymentFailed, PaymentReference: "pi_1"},
			wantKind: KindFailure,
		},
		{
			name:     "other",
			event:    &model.PaymentEvent{Type: model.EventOther},
			wantKind: KindIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instr, err := Classify(tt.event)
			if instr == nil {
				t.Fatalf("Classify returned nil instruction")
			}
			if got := instr.kind(); got != tt.wantKind {
				t.Fatalf("kind = %q, want %q", got, tt.wantKind)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassify_DeclaredTotal(t *testing.T) {
	instr, err := Classify(checkout(map[string]string{
		"user_id":     testUser,
		"cart_items":  `[{"product_id":"a","quantity":3,"price_cents":100}]`,
		"total_cents": "250",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cart, ok := instr.(CartPurchase)
	if !ok {
		t.Fatalf("expected CartPurchase, got %T", instr)
	}
	if cart.DeclaredTotal == nil || *cart.DeclaredTotal != 250 {
		t.Fatalf("DeclaredTotal = %v, want 250", cart.DeclaredTotal)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items: %+v", cart.Items)
	}
}

func checkout(md map[string]string) *model.PaymentEvent {
	return &model.PaymentEvent{
		ID:               "evt_classify",
		Type:             model.EventCheckoutCompleted,
		RawType:          model.StripeCheckoutCompleted,
		PaymentReference: "pi_classify",
		Metadata:         md,
	}
}
