package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every message it is asked to send.
type SQS struct {
	mu       sync.Mutex
	Err      error
	Messages []*sqs.SendMessageInput
}

func (q *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return nil, q.Err
	}
	q.Messages = append(q.Messages, in)
	return &sqs.SendMessageOutput{}, nil
}

// CloudWatch records every PutMetricData request.
type CloudWatch struct {
	mu     sync.Mutex
	Err    error
	Inputs []*cloudwatch.PutMetricDataInput
}

func (c *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Inputs = append(c.Inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}
