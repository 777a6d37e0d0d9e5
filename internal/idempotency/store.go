package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/session-leaderboard/internal/aws"
)

// Store tracks which events have been processed, so redelivered messages are handled once.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a record is kept before DynamoDB TTL removes it
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
var ErrConditionFailed = errors.New("conditional check failed")

func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// CreateIfNotExists creates a record with status IN_PROGRESS if the key does not exist.
// Returns (true, nil) if created, (false, nil) if the record already exists (caller should Get
// to inspect) and (false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, key string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves a record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       recordKey(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Reclaim moves a FAILED record back to IN_PROGRESS so it can be retried.
// Returns ErrConditionFailed if the record is not FAILED.
func (s *Store) Reclaim(ctx context.Context, key string) error {
	return s.transition(ctx, key, StatusFailed, "SET #s = :new, updated_at = :ua", nil, map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: StatusInProgress},
	})
}

// ReclaimStale takes over an IN_PROGRESS record whose owner is presumed dead. It only succeeds
// while the record is unchanged since rec was read; otherwise it returns ErrConditionFailed.
func (s *Store) ReclaimStale(ctx context.Context, rec *Record) error {
	seen, err := attributevalue.Marshal(rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}
	return s.transitionIf(ctx, rec.IdempotencyKey, StatusInProgress, "updated_at = :seen", "SET updated_at = :ua", nil, map[string]types.AttributeValue{
		":seen": seen,
	})
}

// MarkDone sets status to DONE and stores a short result summary.
func (s *Store) MarkDone(ctx context.Context, key, result string) error {
	err := s.transition(ctx, key, StatusInProgress, "SET #s = :new, #r = :r, updated_at = :ua", map[string]string{"#r": "result"}, map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: StatusDone},
		":r":   &types.AttributeValueMemberS{Value: result},
	})
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return nil
}

// MarkFailed marks the record as FAILED and stores a note.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	err := s.transition(ctx, key, StatusInProgress, "SET #s = :new, note = :n, updated_at = :ua", nil, map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: StatusFailed},
		":n":   &types.AttributeValueMemberS{Value: note},
	})
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// transition applies update only while the record is in the expected status.
func (s *Store) transition(ctx context.Context, key, expected, update string, names map[string]string, values map[string]types.AttributeValue) error {
	return s.transitionIf(ctx, key, expected, "", update, names, values)
}

// transitionIf is transition with an extra guard ANDed to the status condition.
// updated_at is written in the same encoding CreateIfNotExists uses, so it can be compared later.
func (s *Store) transitionIf(ctx context.Context, key, expected, guard, update string, names map[string]string, values map[string]types.AttributeValue) error {
	attrNames := map[string]string{"#s": "status"}
	for k, v := range names {
		attrNames[k] = v
	}
	ua, err := attributevalue.Marshal(s.nowFunc().UTC())
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}
	values[":expected"] = &types.AttributeValueMemberS{Value: expected}
	values[":ua"] = ua

	condition := "#s = :expected"
	if guard != "" {
		condition += " AND " + guard
	}

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(key),
		UpdateExpression:          &update,
		ExpressionAttributeNames:  attrNames,
		ExpressionAttributeValues: values,
		ConditionExpression:       &condition,
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
