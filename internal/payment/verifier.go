// Package payment wraps the Stripe calls the fulfillment pipeline depends on:
// webhook signature verification and checkout-session retrieval.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
)

var (
	ErrSignatureInvalid    = errors.New("invalid stripe signature")
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
)

// Event types the pipeline acts on.
const (
	EventCheckoutCompleted             stripe.EventType = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded stripe.EventType = "checkout.session.async_payment_succeeded"
)

// ItemsMetadataKey is the checkout-session metadata key carrying the JSON-encoded cart.
const ItemsMetadataKey = "items"

// SessionAPI is the subset of the Stripe checkout-session client used here.
// *session.Client satisfies it.
type SessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// SessionDetails is what the pipeline needs from a checkout session.
type SessionDetails struct {
	ID            string
	PaymentStatus string
	Email         string
	TotalPaid     orders.Money
	Currency      string
	Items         []orders.LineItem
}

// Paid reports whether Stripe considers the session paid.
func (s *SessionDetails) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// VerifySignature checks the Stripe-Signature header against the raw request body and
// returns the decoded event. Any failure, including a missing header or secret, is
// reported as ErrSignatureInvalid.
func VerifySignature(payload []byte, header, secret string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" || strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event, nil
}

// Verifier talks to Stripe on behalf of the orchestrator.
type Verifier struct {
	sessions      SessionAPI
	webhookSecret string
}

// NewVerifier builds a Verifier over an existing session client.
func NewVerifier(sessions SessionAPI, webhookSecret string) *Verifier {
	return &Verifier{sessions: sessions, webhookSecret: webhookSecret}
}

// NewStripeVerifier builds a Verifier backed by the live Stripe API.
func NewStripeVerifier(secretKey, webhookSecret string) *Verifier {
	client := &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	return NewVerifier(client, webhookSecret)
}

// VerifyWebhook verifies a webhook delivery with the configured signing secret.
func (v *Verifier) VerifyWebhook(payload []byte, header string) (stripe.Event, error) {
	return VerifySignature(payload, header, v.webhookSecret)
}

// RetrieveSession fetches a checkout session by id.
func (v *Verifier) RetrieveSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := v.sessions.Get(sessionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	return detailsFromSession(cs), nil
}

// ConfirmPaid retrieves the session and fails with ErrPaymentNotConfirmed unless it is paid.
func (v *Verifier) ConfirmPaid(ctx context.Context, sessionID string) (*SessionDetails, error) {
	details, err := v.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !details.Paid() {
		return nil, fmt.Errorf("%w: session %s is %q", ErrPaymentNotConfirmed, sessionID, details.PaymentStatus)
	}
	return details, nil
}

// SessionFromEvent decodes the checkout session carried by a checkout.session.* event.
func SessionFromEvent(event stripe.Event) (*SessionDetails, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("event has no data")
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout.session: %w", err)
	}
	if cs.ID == "" {
		return nil, errors.New("checkout session payload has no id")
	}
	return detailsFromSession(&cs), nil
}

func detailsFromSession(cs *stripe.CheckoutSession) *SessionDetails {
	d := &SessionDetails{
		ID:            cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		Email:         strings.TrimSpace(cs.CustomerEmail),
		TotalPaid:     orders.MoneyFromMinor(cs.AmountTotal),
		Currency:      string(cs.Currency),
	}
	if cs.CustomerDetails != nil && strings.TrimSpace(cs.CustomerDetails.Email) != "" {
		d.Email = strings.TrimSpace(cs.CustomerDetails.Email)
	}
	if raw := cs.Metadata[ItemsMetadataKey]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Items); err != nil {
			log.Warn().Err(err).Str("session_id", cs.ID).Msg("checkout session carries unreadable items metadata")
			d.Items = nil
		}
	}
	return d
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
