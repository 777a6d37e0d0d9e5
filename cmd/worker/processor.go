package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/imrishuroy/session-leaderboard/internal/aws"
	"github.com/imrishuroy/session-leaderboard/internal/idempotency"
	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

// durationMetric is the CloudWatch metric fed by completed sessions.
const durationMetric = "SessionDuration"

// Processor turns session-completed events into duration metrics, once per session.
type Processor struct {
	idempStore *idempotency.Store
	metrics    *aws.MetricEmitter
	staleAfter time.Duration // IN_PROGRESS records older than this are taken over
	nowFunc    func() time.Time
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, processedTable string, ttl, staleAfter time.Duration, namespace string) *Processor {
	return &Processor{
		idempStore: idempotency.NewStore(clients.DynamoDB, processedTable, ttl),
		metrics:    aws.NewMetricEmitter(clients.CloudWatch, namespace),
		staleAfter: staleAfter,
		nowFunc:    time.Now,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		msgCtx := log.With().Str("message_id", rec.MessageId).Logger().WithContext(ctx)
		if err := p.processMessage(msgCtx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Ctx(msgCtx).Error().Err(err).Msg("worker error")
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev sessions.CompletedEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.UserName == "" || ev.SessionID == "" {
		return fmt.Errorf("invalid message body: user_name and session_id are required")
	}

	key := ev.Key()
	logger := log.Ctx(ctx).With().Str("idempotency_key", key).Logger()

	proceed, err := p.claim(ctx, key)
	if err != nil {
		return err
	}
	if !proceed {
		logger.Info().Msg("event already handled, skipping")
		return nil
	}

	value := ev.Duration.InexactFloat64()
	err = p.metrics.PutSeconds(ctx, durationMetric, value, ev.CompletedAt, map[string]string{
		"UserName": ev.UserName,
	})
	if err != nil {
		if markErr := p.idempStore.MarkFailed(ctx, key, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark event failed")
		}
		return fmt.Errorf("publish metric: %w", err)
	}

	if err := p.idempStore.MarkDone(ctx, key, ev.Duration.String()); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}

	logger.Info().Str("duration", ev.Duration.String()).Msg("session duration recorded")
	return nil
}

// claim reports whether this delivery should do the work for key.
// DONE records and fresh IN_PROGRESS records belong to an earlier delivery; FAILED records and
// IN_PROGRESS records not touched for staleAfter (the owner crashed) are reclaimed.
func (p *Processor) claim(ctx context.Context, key string) (bool, error) {
	created, err := p.idempStore.CreateIfNotExists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return true, nil
	}

	rec, err := p.idempStore.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get idempotency record: %w", err)
	}
	if rec == nil {
		// expired between the two calls; let SQS redeliver
		return false, fmt.Errorf("idempotency record for %s disappeared", key)
	}

	switch rec.Status {
	case idempotency.StatusDone:
		return false, nil
	case idempotency.StatusInProgress:
		if p.nowFunc().Sub(rec.UpdatedAt) < p.staleAfter {
			return false, nil
		}
		err := p.idempStore.ReclaimStale(ctx, rec)
		if errors.Is(err, idempotency.ErrConditionFailed) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reclaim stale idempotency record: %w", err)
		}
		log.Ctx(ctx).Warn().Str("idempotency_key", key).Time("updated_at", rec.UpdatedAt).Msg("reclaimed stale record")
		return true, nil
	case idempotency.StatusFailed:
		err := p.idempStore.Reclaim(ctx, key)
		if errors.Is(err, idempotency.ErrConditionFailed) {
			// a concurrent delivery reclaimed it first
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reclaim idempotency record: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("unexpected status for %s: %s", key, rec.Status)
	}
}
