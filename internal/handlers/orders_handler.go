package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fulfillment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/validation"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/workerclient"
)

// orderView is the public shape of an order for status polling.
type orderView struct {
	OrderID     string        `json:"orderId"`
	Status      orders.Status `json:"status"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
}

func registerOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/orders/create", func(c *gin.Context) {
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		orderID, err := cfg.Fulfiller.CreateOrder(c.Request.Context(), req.SessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": orderID})
	})

	if cfg.Worker != nil {
		r.POST("/generate-order", forwardToWorker(cfg.Worker, v))
	} else {
		r.POST("/generate-order", generateLocally(cfg.Fulfiller))
	}

	r.GET("/orders/:sessionId", func(c *gin.Context) {
		order, err := cfg.Fulfiller.Order(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, orderView{
			OrderID:     order.ID,
			Status:      order.Status,
			DownloadURL: order.DownloadURL,
			ExpiresAt:   order.ExpiresAt,
		})
	})
}

// generateLocally runs archive generation in this process.
func generateLocally(f Fulfiller) gin.HandlerFunc {
	v := validation.New()
	return func(c *gin.Context) {
		var req validation.GenerateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		res, err := f.Generate(c.Request.Context(), fulfillment.GenerateRequest{
			SessionID: req.SessionID,
			OrderRef:  req.OrderRef,
			Items:     req.Items,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// forwardToWorker validates the request, then relays it to the font worker and
// returns the worker's status and body unchanged.
func forwardToWorker(w Forwarder, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.GenerateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		body, err := json.Marshal(req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}

		resp, err := w.Forward(c.Request.Context(), body)
		if err != nil {
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("font worker call failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "worker_unavailable", "message": "Font generation is temporarily unavailable. Please try again."})
			return
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(resp.StatusCode, contentType, resp.Body)
	}
}

// requireWorkerSecret rejects requests without the shared bearer secret.
func requireWorkerSecret(secret string) gin.HandlerFunc {
	expected := []byte("Bearer " + secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(workerclient.AuthHeader))
		if secret == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
