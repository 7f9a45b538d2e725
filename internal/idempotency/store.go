package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/aws"
)

// Store de-duplicates webhook deliveries against DynamoDB.
type Store struct {
	client      aws.DynamoDBAPI
	tableName   string
	ttlWindow   time.Duration // how long an event id is remembered
	leaseWindow time.Duration // how long an IN_PROGRESS claim blocks redeliveries
	nowFunc     func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long processed event ids are kept (e.g., 48*time.Hour).
// leaseWindow: how long a claim stays exclusive before a redelivery may take it over.
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow, leaseWindow time.Duration) *Store {
	return &Store{
		client:      client,
		tableName:   tableName,
		ttlWindow:   ttlWindow,
		leaseWindow: leaseWindow,
		nowFunc:     time.Now,
	}
}

// Claim registers an event id as IN_PROGRESS if it has never been seen.
// A FAILED event, a claim whose lease ran out, or a record past its TTL that the
// sweeper has not removed yet is taken back so the retry can do the work.
func (s *Store) Claim(ctx context.Context, eventID, eventType string) (ClaimResult, error) {
	now := s.nowFunc().UTC()
	rec := EventRecord{
		IdempotencyKey: eventID,
		Status:         StatusInProgress,
		EventType:      eventType,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
		LeaseUntil:     now.Add(s.leaseWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err == nil {
		return ClaimAcquired, nil
	}
	if !isConditionFailed(err) {
		return 0, fmt.Errorf("put item: %w", err)
	}

	existing, err := s.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		// expired between the put and the read
		return ClaimAcquired, nil
	}

	nowN := &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	var cond string
	values := map[string]types.AttributeValue{}
	switch {
	case existing.ExpiresAt < now.Unix():
		cond = "expires_at < :now"
		values[":now"] = nowN
	case existing.Status == StatusDone:
		return ClaimDuplicate, nil
	case existing.Status == StatusInProgress && existing.LeaseUntil >= now.Unix():
		return ClaimInFlight, nil
	case existing.Status == StatusInProgress && existing.LeaseUntil == 0:
		// written without a lease
		cond = "#s = :inprogress AND attribute_not_exists(lease_until)"
	case existing.Status == StatusInProgress:
		cond = "#s = :inprogress AND lease_until < :now"
		values[":now"] = nowN
	default:
		cond = "#s = :failed"
		values[":failed"] = &types.AttributeValueMemberS{Value: StatusFailed}
	}
	return s.reclaim(ctx, rec, cond, values)
}

// reclaim takes an existing record back for rec, guarded by cond so two
// redeliveries cannot both win.
func (s *Store) reclaim(ctx context.Context, rec EventRecord, cond string, values map[string]types.AttributeValue) (ClaimResult, error) {
	values[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}
	values[":lease"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.LeaseUntil, 10)}
	values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.ExpiresAt, 10)}
	values[":et"] = &types.AttributeValueMemberS{Value: rec.EventType}
	values[":ua"] = &types.AttributeValueMemberS{Value: rec.UpdatedAt.Format(time.RFC3339)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: rec.IdempotencyKey},
		},
		UpdateExpression:          awsString("SET #s = :inprogress, lease_until = :lease, expires_at = :exp, event_type = :et, updated_at = :ua"),
		ConditionExpression:       awsString(cond),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ClaimInFlight, nil
		}
		return 0, fmt.Errorf("reclaim event: %w", err)
	}
	return ClaimAcquired, nil
}

// Get retrieves a record by event id. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, eventID string) (*EventRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec EventRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Complete marks an event DONE and remembers which session/order it produced.
func (s *Store) Complete(ctx context.Context, eventID, sessionID, orderID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: eventID},
		},
		UpdateExpression:         awsString("SET #s = :done, session_id = :sid, order_id = :oid, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":sid":  &types.AttributeValueMemberS{Value: sessionID},
			":oid":  &types.AttributeValueMemberS{Value: orderID},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (complete): %w", err)
	}
	return nil
}

// Fail marks an event FAILED so the next delivery reprocesses it.
func (s *Store) Fail(ctx context.Context, eventID, note string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: eventID},
		},
		UpdateExpression:         awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("update item (fail): %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
