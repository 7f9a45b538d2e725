package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fulfillment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/idempotency"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/workerclient"
)

// Fulfiller is the pipeline behind the routes. *fulfillment.Orchestrator satisfies it.
type Fulfiller interface {
	VerifyWebhook(payload []byte, header string) (stripe.Event, error)
	ProcessEvent(ctx context.Context, event stripe.Event) (*fulfillment.WebhookOutcome, error)
	CreateOrder(ctx context.Context, sessionID string) (string, error)
	Generate(ctx context.Context, req fulfillment.GenerateRequest) (*fulfillment.GenerateResult, error)
	Order(ctx context.Context, sessionID string) (*orders.Order, error)
}

// EventLog de-duplicates webhook deliveries. *idempotency.Store satisfies it.
type EventLog interface {
	Claim(ctx context.Context, eventID, eventType string) (idempotency.ClaimResult, error)
	Complete(ctx context.Context, eventID, sessionID, orderID string) error
	Fail(ctx context.Context, eventID, note string) error
}

// Forwarder sends generation requests to the font worker. *workerclient.Client satisfies it.
type Forwarder interface {
	Forward(ctx context.Context, body []byte) (*workerclient.Response, error)
}

// HandlerConfig groups dependencies for the routes. Events and Worker are optional:
// without Events every delivery is processed, without Worker generation runs in-process.
type HandlerConfig struct {
	Fulfiller    Fulfiller
	Events       EventLog
	Worker       Forwarder
	WorkerSecret string
}

// NewRouter builds a gin engine with recovery, request logging and /health.
func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// RegisterAPIRoutes registers the public API: webhook, order creation, generation and lookup.
func RegisterAPIRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/webhook", webhookHandler(cfg.Fulfiller, cfg.Events))
	registerOrdersRoutes(r, cfg)
}

// RegisterWorkerRoutes registers the worker's generation route behind the shared secret.
func RegisterWorkerRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST(workerclient.GeneratePath, requireWorkerSecret(cfg.WorkerSecret), generateLocally(cfg.Fulfiller))
}

// RequestLogger writes one structured line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		} else if status >= http.StatusBadRequest {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
