// Package webhook проверяет подпись уведомлений Stripe и приводит их к доменному событию.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/mmeshcher/content-settlement/internal/model"
)

// SignatureHeader содержит имя заголовка, в котором Stripe передаёт подпись тела запроса.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrInvalidSignature возвращается при отсутствии или несовпадении подписи.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrMalformedEvent возвращается, если подписанное тело не удаётся разобрать как событие.
	ErrMalformedEvent = errors.New("webhook event is malformed")
)

// Verifier проверяет подпись входящих событий общим секретом конечной точки.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier создаёт Verifier с секретом конечной точки и стандартным допуском по времени подписи.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

// Verify сверяет подпись с телом запроса и возвращает нормализованное событие.
// Любая ошибка означает, что событие обрабатывать нельзя.
func (v *Verifier) Verify(payload []byte, signature string) (*model.PaymentEvent, error) {
	if v == nil || v.secret == "" {
		return nil, fmt.Errorf("%w: secret is not configured", ErrInvalidSignature)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if strings.TrimSpace(event.ID) == "" {
		return nil, fmt.Errorf("%w: event id is empty", ErrMalformedEvent)
	}

	return toPaymentEvent(event, payload)
}

func toPaymentEvent(event stripe.Event, payload []byte) (*model.PaymentEvent, error) {
	res := &model.PaymentEvent{
		ID:         event.ID,
		RawType:    string(event.Type),
		Type:       model.EventOther,
		Metadata:   map[string]string{},
		RawPayload: payload,
	}

	switch res.RawType {
	case model.StripeCheckoutCompleted:
		if event.Data == nil {
			return nil, fmt.Errorf("%w: checkout session is missing", ErrMalformedEvent)
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: unmarshal checkout session: %v", ErrMalformedEvent, err)
		}
		res.Type = model.EventCheckoutCompleted
		res.SessionID = sess.ID
		if sess.PaymentIntent != nil {
			res.PaymentReference = sess.PaymentIntent.ID
		}
		if sess.Metadata != nil {
			res.Metadata = sess.Metadata
		}

	case model.StripePaymentFailed:
		if event.Data == nil {
			return nil, fmt.Errorf("%w: payment intent is missing", ErrMalformedEvent)
		}
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: unmarshal payment intent: %v", ErrMalformedEvent, err)
		}
		res.Type = model.EventPaymentFailed
		res.PaymentReference = pi.ID
		if pi.Metadata != nil {
			res.Metadata = pi.Metadata
		}
	}

	return res, nil
}
