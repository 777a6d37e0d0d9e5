package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricEmitter publishes single data points to a CloudWatch namespace.
type MetricEmitter struct {
	CloudWatch CloudWatchAPI
	Namespace  string
}

func NewMetricEmitter(client CloudWatchAPI, namespace string) *MetricEmitter {
	return &MetricEmitter{CloudWatch: client, Namespace: namespace}
}

// PutSeconds records value (in seconds) for metric, tagged with the given dimensions.
func (m *MetricEmitter) PutSeconds(ctx context.Context, metric string, value float64, at time.Time, dimensions map[string]string) error {
	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, cwtypes.Dimension{Name: awsString(k), Value: awsString(v)})
	}

	_, err := m.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &metric,
				Value:      &value,
				Unit:       cwtypes.StandardUnitSeconds,
				Timestamp:  &at,
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
