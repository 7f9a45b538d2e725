package validation

import "github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"

// CreateOrderRequest is the payload for POST /orders/create
type CreateOrderRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=255"` // checkout session id
}

// GenerateOrderRequest is the payload for POST /generate-order and the worker route.
// One of SessionID or OrderRef must be set; items fall back to the stored order when empty.
type GenerateOrderRequest struct {
	SessionID string            `json:"sessionId,omitempty" validate:"omitempty,max=255"`
	OrderRef  string            `json:"orderRef,omitempty" validate:"omitempty,max=255"`
	Items     []orders.LineItem `json:"items,omitempty" validate:"omitempty,max=100,dive"`
}
