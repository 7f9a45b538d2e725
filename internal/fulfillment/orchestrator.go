// Package fulfillment coordinates the order pipeline: payment events become orders,
// and generation requests become uploaded archives with signed download links.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/archive"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/assets"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/orders"
	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/payment"
)

const (
	DefaultCallTimeout = 20 * time.Second

	MetricOrderUpserted       = "OrderUpserted"
	MetricArchiveGenerated    = "ArchiveGenerated"
	MetricArchivePlaceholders = "ArchivePlaceholders"
	MetricGenerationFailed    = "GenerationFailed"
)

// PaymentGateway verifies webhooks and payment state. *payment.Verifier satisfies it.
type PaymentGateway interface {
	VerifyWebhook(payload []byte, header string) (stripe.Event, error)
	ConfirmPaid(ctx context.Context, sessionID string) (*payment.SessionDetails, error)
}

// OrderRepository persists orders. *orders.Store satisfies it.
type OrderRepository interface {
	UpsertFromSession(ctx context.Context, sessionID, email string, totalPaid orders.Money, items []orders.LineItem) (string, error)
	MarkFulfilled(ctx context.Context, orderID, downloadURL string, expiresAt time.Time) error
	FindBySessionID(ctx context.Context, sessionID string) (*orders.Order, error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// ArchiveBuilder packages line items into a zip. *archive.Builder satisfies it.
type ArchiveBuilder interface {
	BuildItems(ctx context.Context, items []orders.LineItem) (*archive.Result, error)
}

// ArchiveStore uploads archives and signs download links. *assets.DestinationStore satisfies it.
type ArchiveStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// JobPublisher hands generation jobs to the worker queue. *aws.Publisher satisfies it.
type JobPublisher interface {
	Publish(ctx context.Context, payload any, attributes map[string]string) (string, error)
}

// Metrics records counters. *aws.Metrics satisfies it.
type Metrics interface {
	Count(ctx context.Context, name string, value float64)
}

// Deps groups the collaborators of an Orchestrator. Jobs and Metrics are optional.
type Deps struct {
	Payments PaymentGateway
	Orders   OrderRepository
	Builder  ArchiveBuilder
	Archives ArchiveStore
	Jobs     JobPublisher
	Metrics  Metrics
}

// Options tunes an Orchestrator; zero values select the defaults.
type Options struct {
	URLTTL      time.Duration
	CallTimeout time.Duration
}

// GenerationJob is the queue message asking the worker to build an order's archive.
type GenerationJob struct {
	SessionID string            `json:"sessionId"`
	EventID   string            `json:"eventId,omitempty"`
	Items     []orders.LineItem `json:"items,omitempty"`
}

// GenerateRequest asks for a fresh archive. OrderRef (an order id) is used when SessionID is empty.
type GenerateRequest struct {
	SessionID string
	OrderRef  string
	Items     []orders.LineItem
}

// GenerateResult is what a successful generation hands back to the caller.
type GenerateResult struct {
	OrderID      string    `json:"orderId,omitempty"`
	DownloadURL  string    `json:"downloadUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Key          string    `json:"-"`
	Placeholders int       `json:"-"`
}

// Webhook actions reported in a WebhookOutcome.
const (
	ActionOrderUpserted = "order_upserted"
	ActionSkippedUnpaid = "skipped_unpaid"
	ActionIgnored       = "ignored"
)

// WebhookOutcome describes what ProcessEvent did with an event.
type WebhookOutcome struct {
	EventID   string
	EventType string
	Action    string
	SessionID string
	OrderID   string
	JobID     string
}

// Orchestrator runs the fulfillment state machine.
type Orchestrator struct {
	payments PaymentGateway
	orders   OrderRepository
	builder  ArchiveBuilder
	archives ArchiveStore
	jobs     JobPublisher
	metrics  Metrics

	urlTTL      time.Duration
	callTimeout time.Duration
	nowFunc     func() time.Time
}

// New wires an Orchestrator.
func New(d Deps, opts Options) *Orchestrator {
	if opts.URLTTL <= 0 {
		opts.URLTTL = assets.DefaultURLTTL
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{
		payments:    d.Payments,
		orders:      d.Orders,
		builder:     d.Builder,
		archives:    d.Archives,
		jobs:        d.Jobs,
		metrics:     d.Metrics,
		urlTTL:      opts.URLTTL,
		callTimeout: opts.CallTimeout,
		nowFunc:     time.Now,
	}
}

// VerifyWebhook checks the signature of a raw webhook delivery. It fails closed:
// any verification problem is reported as payment.ErrSignatureInvalid.
func (o *Orchestrator) VerifyWebhook(payload []byte, header string) (stripe.Event, error) {
	logger := log.With().Str("flow", "webhook").Logger()
	transition(logger, StateReceivedEvent)
	event, err := o.payments.VerifyWebhook(payload, header)
	if err != nil {
		return stripe.Event{}, fail(logger, StateReceivedEvent, err)
	}
	transition(logger.With().Str("event_id", event.ID).Logger(), StateSignatureVerified)
	return event, nil
}

// ProcessEvent acts on a verified event. Paid checkout sessions are upserted as orders and a
// generation job is queued; archive generation itself never runs on the webhook path.
func (o *Orchestrator) ProcessEvent(ctx context.Context, event stripe.Event) (*WebhookOutcome, error) {
	out := &WebhookOutcome{EventID: event.ID, EventType: string(event.Type)}
	logger := log.With().Str("flow", "webhook").Str("event_id", event.ID).Str("type", out.EventType).Logger()

	switch event.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutAsyncPaymentSucceeded:
	default:
		logger.Info().Msg("webhook event ignored (unhandled type)")
		out.Action = ActionIgnored
		return out, nil
	}

	details, err := payment.SessionFromEvent(event)
	if err != nil {
		return nil, fail(logger, StateSignatureVerified, err)
	}
	out.SessionID = details.ID
	logger = logger.With().Str("session_id", details.ID).Logger()

	if !details.Paid() {
		// completed with a delayed payment method; the async_payment_succeeded event follows
		logger.Info().Str("payment_status", details.PaymentStatus).Msg("checkout session not paid yet; skipping")
		out.Action = ActionSkippedUnpaid
		return out, nil
	}
	transition(logger, StateSessionConfirmedPaid)

	orderID, err := o.upsert(ctx, details)
	if err != nil {
		return nil, fail(logger, StateSessionConfirmedPaid, err)
	}
	out.OrderID = orderID
	out.Action = ActionOrderUpserted
	transition(logger.With().Str("order_id", orderID).Logger(), StateOrderUpserted)

	out.JobID = o.enqueue(ctx, logger, GenerationJob{SessionID: details.ID, EventID: event.ID, Items: details.Items})
	return out, nil
}

// CreateOrder confirms the session is paid and upserts its order.
func (o *Orchestrator) CreateOrder(ctx context.Context, sessionID string) (string, error) {
	logger := log.With().Str("flow", "create_order").Str("session_id", sessionID).Logger()

	details, err := o.confirmPaid(ctx, sessionID)
	if err != nil {
		return "", fail(logger, StateReceivedEvent, err)
	}
	transition(logger, StateSessionConfirmedPaid)

	orderID, err := o.upsert(ctx, details)
	if err != nil {
		return "", fail(logger, StateSessionConfirmedPaid, err)
	}
	transition(logger.With().Str("order_id", orderID).Logger(), StateOrderUpserted)
	return orderID, nil
}

// Generate builds, uploads and signs a fresh archive. Payment is re-verified first, so a
// forged request cannot bypass checkout. Every call produces a new object key; when an
// order exists for the session it is marked fulfilled with the new link.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (res *GenerateResult, err error) {
	logger := log.With().Str("flow", "generate").Logger()
	defer func() {
		if err != nil {
			o.count(ctx, MetricGenerationFailed, 1)
		}
	}()

	var order *orders.Order
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" && req.OrderRef != "" {
		if err := o.call(ctx, func(ctx context.Context) (err error) {
			order, err = o.orders.Get(ctx, req.OrderRef)
			return err
		}); err != nil {
			return nil, fail(logger, StateReceivedEvent, err)
		}
		if order == nil {
			return nil, fail(logger, StateReceivedEvent, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, req.OrderRef))
		}
		sessionID = order.StripeSessionID
	}
	logger = logger.With().Str("session_id", sessionID).Logger()

	details, err := o.confirmPaid(ctx, sessionID)
	if err != nil {
		return nil, fail(logger, StateReceivedEvent, err)
	}
	transition(logger, StateSessionConfirmedPaid)

	if order == nil {
		if err := o.call(ctx, func(ctx context.Context) (err error) {
			order, err = o.orders.FindBySessionID(ctx, sessionID)
			return err
		}); err != nil {
			return nil, fail(logger, StateSessionConfirmedPaid, fmt.Errorf("load order: %w", err))
		}
	}

	purchased := details.Items
	if order != nil && len(order.Items) > 0 {
		purchased = order.Items
	}
	items := req.Items
	if len(items) > 0 && len(purchased) > 0 {
		// a guest session with no recorded items has nothing to check against
		if it, ok := firstUnpurchased(items, purchased); ok {
			return nil, fail(logger, StateSessionConfirmedPaid,
				fmt.Errorf("%w: %s %sw (%s)", ErrItemsNotPurchased, it.FontFamilyID, strconv.FormatFloat(it.Weight, 'f', -1, 64), it.License))
		}
	}
	if len(items) == 0 {
		items = purchased
	}
	if len(items) == 0 {
		return nil, fail(logger, StateSessionConfirmedPaid, ErrNoItems)
	}
	transition(logger, StateArchiveRequested)

	built, err := o.builder.BuildItems(ctx, items)
	if err != nil {
		return nil, fail(logger, StateArchiveRequested, timeoutOr(err))
	}
	transition(logger, StateArchiveBuilt)

	now := o.nowFunc().UTC()
	key := assets.ArchiveKey(sessionID, now)
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.archives.Upload(ctx, key, built.Data)
	}); err != nil {
		if !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrUpload, err)
		}
		return nil, fail(logger, StateArchiveBuilt, err)
	}
	transition(logger.With().Str("key", key).Logger(), StateUploaded)

	var url string
	if err := o.call(ctx, func(ctx context.Context) (err error) {
		url, err = o.archives.SignedURL(ctx, key, o.urlTTL)
		return err
	}); err != nil {
		return nil, fail(logger, StateUploaded, err)
	}
	res = &GenerateResult{
		DownloadURL:  url,
		ExpiresAt:    now.Add(o.urlTTL),
		Key:          key,
		Placeholders: built.Placeholders,
	}
	transition(logger, StateURLIssued)

	if order != nil {
		res.OrderID = order.ID
		if err := o.call(ctx, func(ctx context.Context) error {
			return o.orders.MarkFulfilled(ctx, order.ID, res.DownloadURL, res.ExpiresAt)
		}); err != nil {
			return nil, fail(logger.With().Str("order_id", order.ID).Logger(), StateURLIssued, err)
		}
		transition(logger.With().Str("order_id", order.ID).Logger(), StateOrderMarkedFulfilled)
	} else {
		logger.Info().Msg("no stored order for session; download link returned without fulfillment record")
	}

	o.count(ctx, MetricArchiveGenerated, 1)
	if built.Placeholders > 0 {
		o.count(ctx, MetricArchivePlaceholders, float64(built.Placeholders))
	}
	logger.Info().Str("key", key).Int("entries", len(built.Entries)).Int("placeholders", built.Placeholders).
		Int("failed_formats", built.FailedFormats).Msg("archive generated")
	return res, nil
}

// Order returns the stored order for a session, or orders.ErrOrderNotFound.
func (o *Orchestrator) Order(ctx context.Context, sessionID string) (*orders.Order, error) {
	var order *orders.Order
	if err := o.call(ctx, func(ctx context.Context) (err error) {
		order, err = o.orders.FindBySessionID(ctx, sessionID)
		return err
	}); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orders.ErrOrderNotFound
	}
	return order, nil
}

func firstUnpurchased(items, purchased []orders.LineItem) (orders.LineItem, bool) {
	for _, it := range items {
		covered := false
		for _, p := range purchased {
			if it.CoveredBy(p) {
				covered = true
				break
			}
		}
		if !covered {
			return it, true
		}
	}
	return orders.LineItem{}, false
}

func (o *Orchestrator) confirmPaid(ctx context.Context, sessionID string) (*payment.SessionDetails, error) {
	var details *payment.SessionDetails
	err := o.call(ctx, func(ctx context.Context) (err error) {
		details, err = o.payments.ConfirmPaid(ctx, sessionID)
		return err
	})
	return details, err
}

func (o *Orchestrator) upsert(ctx context.Context, d *payment.SessionDetails) (string, error) {
	var orderID string
	err := o.call(ctx, func(ctx context.Context) (err error) {
		orderID, err = o.orders.UpsertFromSession(ctx, d.ID, d.Email, d.TotalPaid, d.Items)
		return err
	})
	if err == nil {
		o.count(ctx, MetricOrderUpserted, 1)
	}
	return orderID, err
}

// enqueue publishes a generation job. Failures are logged only: the order is already
// stored and the client can still request generation directly.
func (o *Orchestrator) enqueue(ctx context.Context, logger zerolog.Logger, job GenerationJob) string {
	if o.jobs == nil {
		return ""
	}
	var id string
	err := o.call(ctx, func(ctx context.Context) (err error) {
		id, err = o.jobs.Publish(ctx, job, map[string]string{
			"session_id": job.SessionID,
			"event_id":   job.EventID,
		})
		return err
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to enqueue generation job")
		return ""
	}
	logger.Debug().Str("message_id", id).Msg("generation job enqueued")
	return id
}

// call runs fn under the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return timeoutOr(fn(cctx))
}

func (o *Orchestrator) count(ctx context.Context, name string, v float64) {
	if o.metrics != nil {
		o.metrics.Count(ctx, name, v)
	}
}

func timeoutOr(err error) error {
	if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func transition(logger zerolog.Logger, s State) {
	logger.Debug().Str("state", string(s)).Msg("fulfillment transition")
}

func fail(logger zerolog.Logger, stage State, err error) error {
	logger.Error().Err(err).Str("state", string(StateFailed)).Str("stage", string(stage)).Msg("fulfillment failed")
	return &StageError{Stage: stage, Err: err}
}
