package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/session-leaderboard/internal/aws"
)

// Store encapsulates operations on the sessions table and its leaderboard index.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	indexName string
}

// NewStore creates a sessions Store. indexName is the GSI keyed by (status, duration).
func NewStore(client aws.DynamoDBAPI, tableName, indexName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		indexName: indexName,
	}
}

func sessionKey(userName, sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_name":  &types.AttributeValueMemberS{Value: userName},
		"session_id": &types.AttributeValueMemberS{Value: sessionID},
	}
}

// Put writes the full session item, replacing any existing item with the same key.
func (s *Store) Put(ctx context.Context, sess Session) error {
	item, err := attributevalue.MarshalMap(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// GetStart fetches only the start instant of a session. Returns (nil, nil) if not found.
func (s *Store) GetStart(ctx context.Context, userName, sessionID string) (*Seconds, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:                &s.tableName,
		Key:                      sessionKey(userName, sessionID),
		ProjectionExpression:     awsString("#st"),
		ExpressionAttributeNames: map[string]string{"#st": "start"},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(out.Item, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess.Start, nil
}

// Complete sets end, duration and COMPLETED in a single update, only while the session is
// IN_PROGRESS and still has the start the duration was computed from.
// A failed condition returns ErrSessionNotFound, ErrSessionAlreadyCompleted or ErrSessionRestarted
// depending on the item DynamoDB reports.
func (s *Store) Complete(ctx context.Context, userName, sessionID string, start, end, duration Seconds) error {
	values, err := attributevalue.MarshalMap(map[string]Seconds{
		":start":    start,
		":end":      end,
		":duration": duration,
	})
	if err != nil {
		return fmt.Errorf("marshal instants: %w", err)
	}
	values[":completed"] = &types.AttributeValueMemberS{Value: string(StatusCompleted)}
	values[":in_progress"] = &types.AttributeValueMemberS{Value: string(StatusInProgress)}

	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              sessionKey(userName, sessionID),
		UpdateExpression: awsString("SET #e = :end, #d = :duration, #s = :completed"),
		ExpressionAttributeNames: map[string]string{
			"#e":  "end",
			"#d":  "duration",
			"#s":  "status",
			"#st": "start",
		},
		ExpressionAttributeValues:           values,
		ConditionExpression:                 awsString("#s = :in_progress AND #st = :start"),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}

	_, err = s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return completeConflict(ccf.Item)
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// completeConflict classifies the item that made Complete's condition fail.
func completeConflict(old map[string]types.AttributeValue) error {
	if len(old) == 0 {
		return ErrSessionNotFound
	}
	var sess Session
	if err := attributevalue.UnmarshalMap(old, &sess); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if sess.Status == StatusCompleted {
		return ErrSessionAlreadyCompleted
	}
	return ErrSessionRestarted
}

// Pager streams pages of sessions in the order the store returns them.
type Pager interface {
	HasMorePages() bool
	NextPage(ctx context.Context) ([]Session, error)
}

// CompletedSessions returns a lazy pager over COMPLETED sessions in ascending duration order,
// read from the leaderboard index. No request is made until NextPage is called.
func (s *Store) CompletedSessions(pageSize int32) Pager {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.indexName,
		KeyConditionExpression: awsString("#s = :completed"),
		ProjectionExpression:   awsString("user_name, session_id, #d"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#d": "duration",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(StatusCompleted)},
		},
		ScanIndexForward: awsBool(true),
	}
	if pageSize > 0 {
		input.Limit = &pageSize
	}
	return &queryPager{p: dyn.NewQueryPaginator(s.client, input)}
}

type queryPager struct {
	p *dyn.QueryPaginator
}

func (q *queryPager) HasMorePages() bool { return q.p.HasMorePages() }

func (q *queryPager) NextPage(ctx context.Context) ([]Session, error) {
	out, err := q.p.NextPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}
	var page []Session
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return page, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
