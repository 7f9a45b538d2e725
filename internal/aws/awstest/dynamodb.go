// Package awstest provides in-memory stand-ins for the AWS client interfaces in
// internal/aws. They implement just enough of each service for unit tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB is an in-memory table store. It understands the condition forms the
// stores use (attribute_exists, attribute_not_exists, string equality, numeric
// less-than, joined by AND)
// and plain "SET a = :x, b = :y" update expressions.
type DynamoDB struct {
	mu     sync.Mutex
	keys   map[string]string
	Tables map[string]map[string]map[string]types.AttributeValue

	// Err, when set, is returned by every call.
	Err error

	PutCalls    int
	GetCalls    int
	UpdateCalls int
}

// NewDynamoDB registers tables by name with their partition key attribute.
func NewDynamoDB(tableKeys map[string]string) *DynamoDB {
	d := &DynamoDB{
		keys:   map[string]string{},
		Tables: map[string]map[string]map[string]types.AttributeValue{},
	}
	for table, key := range tableKeys {
		d.keys[table] = key
		d.Tables[table] = map[string]map[string]types.AttributeValue{}
	}
	return d
}

// Item returns a stored item or nil.
func (d *DynamoDB) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Tables[table][key]
}

func (d *DynamoDB) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PutCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	table, keyAttr, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := stringKey(params.Item, keyAttr)
	if err != nil {
		return nil, err
	}
	existing := d.Tables[table][k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
		}
	}
	item := make(map[string]types.AttributeValue, len(params.Item))
	for name, v := range params.Item {
		item[name] = v
	}
	d.Tables[table][k] = item
	return &dyn.PutItemOutput{}, nil
}

func (d *DynamoDB) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GetCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	table, keyAttr, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := stringKey(params.Key, keyAttr)
	if err != nil {
		return nil, err
	}
	item, ok := d.Tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		out[name] = v
	}
	return &dyn.GetItemOutput{Item: out}, nil
}

func (d *DynamoDB) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	if d.Err != nil {
		return nil, d.Err
	}
	table, keyAttr, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := stringKey(params.Key, keyAttr)
	if err != nil {
		return nil, err
	}
	existing := d.Tables[table][k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
		}
	}

	item := map[string]types.AttributeValue{}
	for name, v := range existing {
		item[name] = v
	}
	for name, v := range params.Key {
		item[name] = v
	}
	if params.UpdateExpression != nil {
		expr := strings.TrimSpace(*params.UpdateExpression)
		if !strings.HasPrefix(expr, "SET ") {
			return nil, fmt.Errorf("awstest: unsupported update expression %q", expr)
		}
		for _, assignment := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
			parts := strings.SplitN(assignment, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("awstest: bad assignment %q", assignment)
			}
			name := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
			placeholder := strings.TrimSpace(parts[1])
			v, ok := params.ExpressionAttributeValues[placeholder]
			if !ok {
				return nil, fmt.Errorf("awstest: missing value %s", placeholder)
			}
			item[name] = v
		}
	}
	d.Tables[table][k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (d *DynamoDB) table(name *string) (string, string, error) {
	if name == nil {
		return "", "", errors.New("awstest: missing table name")
	}
	keyAttr, ok := d.keys[*name]
	if !ok {
		return "", "", &types.ResourceNotFoundException{Message: awsString("table not found: " + *name)}
	}
	return *name, keyAttr, nil
}

func stringKey(item map[string]types.AttributeValue, keyAttr string) (string, error) {
	v, ok := item[keyAttr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: missing string key %s", keyAttr)
	}
	return v.Value, nil
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			name := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
			if _, ok := item[name]; ok {
				return false, nil
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			name := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
			if _, ok := item[name]; !ok {
				return false, nil
			}
		case strings.Contains(clause, " < "):
			parts := strings.SplitN(clause, " < ", 2)
			name := resolveName(strings.TrimSpace(parts[0]), names)
			want, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberN)
			if !ok {
				return false, fmt.Errorf("awstest: unsupported comparison %q", clause)
			}
			got, ok := item[name].(*types.AttributeValueMemberN)
			if !ok {
				return false, nil
			}
			g, err := strconv.ParseFloat(got.Value, 64)
			if err != nil {
				return false, err
			}
			w, err := strconv.ParseFloat(want.Value, 64)
			if err != nil {
				return false, err
			}
			if g >= w {
				return false, nil
			}
		case strings.Contains(clause, "="):
			parts := strings.SplitN(clause, "=", 2)
			name := resolveName(strings.TrimSpace(parts[0]), names)
			want, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
			if !ok {
				return false, fmt.Errorf("awstest: unsupported comparison %q", clause)
			}
			got, ok := item[name].(*types.AttributeValueMemberS)
			if !ok || got.Value != want.Value {
				return false, nil
			}
		default:
			return false, fmt.Errorf("awstest: unsupported condition %q", clause)
		}
	}
	return true, nil
}

func awsString(s string) *string { return &s }
