package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/fulfillment"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/payment"
)

// Generator builds archives. *fulfillment.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req fulfillment.GenerateRequest) (*fulfillment.GenerateResult, error)
}

// Processor handles SQS generation jobs.
type Processor struct {
	gen Generator
}

// NewProcessor creates a new worker processor.
func NewProcessor(gen Generator) *Processor {
	return &Processor{gen: gen}
}

// Handle processes an SQS batch. Failed records are reported individually so SQS
// redelivers only those; after too many attempts they go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			log.Error().Err(err).Str("message_id", rec.MessageId).Msg("generation job failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var job fulfillment.GenerationJob
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil || job.SessionID == "" {
		// retrying cannot fix a malformed message
		log.Error().Err(err).Str("message_id", rec.MessageId).Msg("dropping malformed generation job")
		return nil
	}
	logger := log.With().Str("session_id", job.SessionID).Str("event_id", job.EventID).Logger()
	logger.Info().Int("items", len(job.Items)).Msg("received generation job")

	res, err := p.gen.Generate(ctx, fulfillment.GenerateRequest{SessionID: job.SessionID, Items: job.Items})
	if err != nil {
		if permanent(err) {
			logger.Error().Err(err).Msg("dropping generation job that cannot succeed")
			return nil
		}
		return fmt.Errorf("generate %s: %w", job.SessionID, err)
	}

	logger.Info().Str("order_id", res.OrderID).Str("key", res.Key).Msg("generation job completed")
	return nil
}

// permanent reports errors a redelivery would hit again.
func permanent(err error) bool {
	return errors.Is(err, payment.ErrPaymentNotConfirmed) ||
		errors.Is(err, payment.ErrSessionNotFound) ||
		errors.Is(err, fulfillment.ErrNoItems) ||
		errors.Is(err, fulfillment.ErrItemsNotPurchased) ||
		errors.Is(err, orders.ErrOrderNotFound)
}
