// Package app wires configuration and AWS/Stripe clients into the fulfillment pipeline.
// Both binaries build their dependencies here once at startup.
package app

import (
	"context"
	"fmt"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/archive"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/assets"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/aws"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/config"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fulfillment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/handlers"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/idempotency"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/payment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/workerclient"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config       *config.Config
	Orchestrator *fulfillment.Orchestrator
	Events       *idempotency.Store
}

// New builds the AWS clients and the Stripe verifier from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	verifier := payment.NewStripeVerifier(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	return Wire(cfg, clients, verifier), nil
}

// Wire assembles the pipeline over existing clients.
func Wire(cfg *config.Config, clients *aws.AWSClients, payments fulfillment.PaymentGateway) *App {
	deps := fulfillment.Deps{
		Payments: payments,
		Orders:   orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		Builder:  archive.NewBuilder(assets.NewSourceStore(clients.S3, cfg.SourceBucket, cfg.ExternalCallTimeout)),
		Archives: assets.NewDestinationStore(clients.S3, clients.Presign, cfg.DestBucket),
		Metrics:  aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace),
	}
	if cfg.QueueURL != "" {
		deps.Jobs = aws.NewPublisher(clients.SQS, cfg.QueueURL)
	}

	a := &App{
		Config: cfg,
		Orchestrator: fulfillment.New(deps, fulfillment.Options{
			URLTTL:      cfg.DownloadURLTTL,
			CallTimeout: cfg.ExternalCallTimeout,
		}),
	}
	if cfg.IdempotencyTable != "" {
		a.Events = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.WebhookDedupeTTL, cfg.WebhookClaimLease)
	}
	return a
}

// HandlerConfig returns the route dependencies for this process.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	hc := handlers.HandlerConfig{
		Fulfiller:    a.Orchestrator,
		WorkerSecret: a.Config.WorkerSecret,
	}
	if a.Events != nil {
		hc.Events = a.Events
	}
	if a.Config.WorkerURL != "" {
		hc.Worker = workerclient.New(a.Config.WorkerURL, a.Config.WorkerSecret, a.Config.ExternalCallTimeout*3)
	}
	return hc
}
