package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"
)

// Metrics publishes fulfillment counters to CloudWatch.
// A nil *Metrics is valid and drops every data point.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count records a count metric. Publishing failures are logged, never returned:
// metrics must not fail a fulfillment.
func (m *Metrics) Count(ctx context.Context, name string, value float64) {
	if m == nil || m.client == nil {
		return
	}
	now := m.nowFunc()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      &value,
			},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to publish metric")
	}
}
