package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/archive"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fulfillment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/payment"
)

// apiError is the body of every non-2xx response. Messages are safe to show to customers.
type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	var se *fulfillment.StageError
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		return apiError{http.StatusBadRequest, "invalid_signature", "Invalid Stripe signature"}
	case errors.Is(err, payment.ErrSessionNotFound):
		return apiError{http.StatusBadRequest, "session_not_found", "Checkout session not found"}
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		return apiError{http.StatusForbidden, "payment_not_confirmed", "Payment has not been confirmed for this order"}
	case errors.Is(err, fulfillment.ErrItemsNotPurchased):
		return apiError{http.StatusForbidden, "items_not_purchased", "Some of the requested fonts are not part of this order"}
	case errors.Is(err, fulfillment.ErrNoItems), errors.Is(err, archive.ErrEmptyRequest):
		return apiError{http.StatusBadRequest, "no_items", "The order has no fonts to deliver"}
	case errors.Is(err, orders.ErrOrderNotFound) && (!errors.As(err, &se) || se.Stage == fulfillment.StateReceivedEvent):
		// an unknown order reference; a miss while marking fulfilled stays a 500
		return apiError{http.StatusNotFound, "order_not_found", "Order not found"}
	case errors.Is(err, fulfillment.ErrTimeout):
		return apiError{http.StatusGatewayTimeout, "timeout", "The request took too long. Please try again in a moment."}
	}
	return apiError{http.StatusInternalServerError, "generation_failed", "Something went wrong preparing your order. Please try again or contact support."}
}

// statusForError maps a pipeline error to its HTTP status.
func statusForError(err error) int {
	return classify(err).status
}

func writeError(c *gin.Context, err error) {
	e := classify(err)
	c.JSON(e.status, gin.H{"error": e.code, "message": e.message})
}
