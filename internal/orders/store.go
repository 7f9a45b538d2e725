package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/loris-maru/lo-ol-typefoundry-2025-sub000/internal/aws"
)

// ErrOrderNotFound is returned when an update targets an order id that does not exist.
var ErrOrderNotFound = errors.New("order not found")

// orderNamespace seeds the name-based order ids.
var orderNamespace = uuid.MustParse("8f1d3c52-6b0e-4f4a-9d2e-5a7c1e0b9f63")

// OrderIDForSession returns the order id owned by a payment session. The mapping is
// deterministic, so the table's primary key doubles as the one-order-per-session constraint.
func OrderIDForSession(sessionID string) string {
	return uuid.NewSHA1(orderNamespace, []byte(sessionID)).String()
}

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// UpsertFromSession creates the order for a payment session if none exists and returns its id.
//
// First write wins: when the order already exists the stored document is left untouched
// (items, totals and a fulfilled status are never overwritten) and the existing id is returned.
// Webhook re-deliveries and client-triggered creation racing the webhook both land here.
func (s *Store) UpsertFromSession(ctx context.Context, sessionID, email string, totalPaid Money, items []LineItem) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	now := s.nowFunc().UTC()
	order := Order{
		ID:              OrderIDForSession(sessionID),
		Type:            DocumentType,
		StripeSessionID: sessionID,
		Status:          StatusPaid,
		Email:           email,
		TotalPaid:       totalPaid,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.Items == nil {
		order.Items = []LineItem{}
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": "_id"},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return order.ID, nil
		}
		return "", fmt.Errorf("put order: %w", err)
	}
	return order.ID, nil
}

// MarkFulfilled records the download link and flips the status to fulfilled in one
// UpdateItem, so no reader observes the status without the URL or the reverse.
// Repeating it on a fulfilled order stores the newer link; status cannot regress.
func (s *Store) MarkFulfilled(ctx context.Context, orderID, downloadURL string, expiresAt time.Time) error {
	expires, err := attributevalue.Marshal(expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("marshal expiry: %w", err)
	}
	updatedAt, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET #s = :fulfilled, downloadUrl = :url, expiresAt = :exp, #ua = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#id": "_id",
			"#s":  "status",
			"#ua": "_updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fulfilled": &types.AttributeValueMemberS{Value: string(StatusFulfilled)},
			":url":       &types.AttributeValueMemberS{Value: downloadURL},
			":exp":       expires,
			":ua":        updatedAt,
		},
		ConditionExpression: awsString("attribute_exists(#id)"),
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// Get fetches an order by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// FindBySessionID returns the order of a payment session, or (nil, nil).
func (s *Store) FindBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	o, err := s.Get(ctx, OrderIDForSession(sessionID))
	if err != nil || o == nil {
		return nil, err
	}
	if o.StripeSessionID != sessionID {
		return nil, nil
	}
	return o, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
