package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records sent messages.
type SQS struct {
	mu       sync.Mutex
	Err      error
	Messages []sqs.SendMessageInput
}

func (q *SQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, *params)
	id := fmt.Sprintf("msg-%d", len(q.Messages))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// CloudWatch records metric data points.
type CloudWatch struct {
	mu     sync.Mutex
	Err    error
	Datums []cwtypes.MetricDatum
}

func (c *CloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Datums = append(c.Datums, params.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Sum totals the recorded values of a metric.
func (c *CloudWatch) Sum(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, d := range c.Datums {
		if d.MetricName != nil && *d.MetricName == name && d.Value != nil {
			total += *d.Value
		}
	}
	return total
}
