package orders

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Money is a decimal currency amount in major units (e.g. 49.90).
// It is stored in DynamoDB as a number and encoded in JSON as a decimal string.
type Money struct {
	decimal.Decimal
}

// MoneyFromMinor converts an amount in minor units (cents) to Money.
func MoneyFromMinor(amount int64) Money {
	return Money{Decimal: decimal.New(amount, -2)}
}

func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.String()}, nil
}

func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute type %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Decimal = d
	return nil
}
