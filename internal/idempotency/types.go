package idempotency

import "time"

// Status values for webhook event records
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// EventRecord is the shape persisted in the idempotency DynamoDB table, one per
// payment-processor event id.
type EventRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK: the event id
	Status         string    `dynamodbav:"status"`
	EventType      string    `dynamodbav:"event_type,omitempty"`
	SessionID      string    `dynamodbav:"session_id,omitempty"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	LeaseUntil     int64     `dynamodbav:"lease_until,omitempty"`
	Note           string    `dynamodbav:"note,omitempty"`
}

// ClaimResult tells the caller what to do with an incoming event.
type ClaimResult int

const (
	// ClaimAcquired: first delivery, a retry of a failed attempt, or a takeover of an
	// abandoned claim. Process it.
	ClaimAcquired ClaimResult = iota
	// ClaimDuplicate: already processed successfully. Acknowledge without work.
	ClaimDuplicate
	// ClaimInFlight: another delivery holds an unexpired lease.
	ClaimInFlight
)
