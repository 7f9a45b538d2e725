package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/idempotency"
)

const webhookBodyLimit = 1024 * 1024 // 1MiB

// webhookHandler verifies a Stripe delivery against its raw body, de-duplicates it by
// event id and hands it to the pipeline. Stripe treats any 2xx as delivered, so
// duplicates are acknowledged and in-flight deliveries get a 409 to be retried later.
func webhookHandler(f Fulfiller, events EventLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read request body"})
			return
		}

		event, err := f.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			writeError(c, err)
			return
		}
		logger := log.With().Str("event_id", event.ID).Str("type", string(event.Type)).Logger()

		if events != nil {
			claim, err := events.Claim(ctx, event.ID, string(event.Type))
			if err != nil {
				logger.Error().Err(err).Msg("webhook event claim failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_processing_failed", "message": "Failed to process webhook"})
				return
			}
			switch claim {
			case idempotency.ClaimDuplicate:
				c.JSON(http.StatusOK, gin.H{"received": true, "status": "duplicate"})
				return
			case idempotency.ClaimInFlight:
				logger.Warn().Msg("webhook event is already in-flight; returning non-2xx so Stripe retries")
				c.JSON(http.StatusConflict, gin.H{"error": "in_flight", "message": "Webhook is being processed; retry later"})
				return
			}
		}

		outcome, err := f.ProcessEvent(ctx, event)
		if err != nil {
			if events != nil {
				if ferr := events.Fail(ctx, event.ID, err.Error()); ferr != nil {
					logger.Warn().Err(ferr).Msg("failed to record webhook failure")
				}
			}
			if statusForError(err) == http.StatusInternalServerError {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_processing_failed", "message": "Failed to process webhook"})
				return
			}
			writeError(c, err)
			return
		}

		if events != nil {
			if err := events.Complete(ctx, event.ID, outcome.SessionID, outcome.OrderID); err != nil {
				// the order is stored; a redelivery would only repeat an idempotent upsert
				logger.Warn().Err(err).Msg("failed to mark webhook event done")
			}
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "status": outcome.Action})
	}
}
