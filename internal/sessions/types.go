package sessions

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses
const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Action is what a client reports for a session.
type Action string

const (
	ActionStart Action = "start"
	ActionEnd   Action = "end"
)

// Seconds is an exact decimal number of seconds since the epoch (or a difference of two).
// It is stored as a DynamoDB number and serialized to JSON as a string.
type Seconds struct {
	decimal.Decimal
}

// SecondsOf converts t to exact epoch seconds with nanosecond precision. Any representable
// instant converts exactly; UnixNano would wrap outside 1678-2262.
func SecondsOf(t time.Time) Seconds {
	return Seconds{decimal.NewFromInt(t.Unix()).Add(decimal.New(int64(t.Nanosecond()), -9))}
}

// MustSeconds parses a decimal literal and panics if it is malformed.
func MustSeconds(s string) Seconds {
	return Seconds{decimal.RequireFromString(s)}
}

// Time converts s back to a UTC instant, truncated to nanoseconds.
func (s Seconds) Time() time.Time {
	sec := s.Floor()
	nanos := s.Sub(sec).Shift(9).IntPart()
	return time.Unix(sec.IntPart(), nanos).UTC()
}

func (s Seconds) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: s.String()}, nil
}

func (s *Seconds) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("seconds: expected number attribute, got %T", av)
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("seconds: %w", err)
	}
	s.Decimal = d
	return nil
}

// Session represents the item stored in the Sessions DynamoDB table.
type Session struct {
	UserName  string   `dynamodbav:"user_name" json:"user_name"`   // PK
	SessionID string   `dynamodbav:"session_id" json:"session_id"` // SK
	Email     string   `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Start     Seconds  `dynamodbav:"start" json:"start"`
	End       *Seconds `dynamodbav:"end,omitempty" json:"end,omitempty"`
	Duration  *Seconds `dynamodbav:"duration,omitempty" json:"duration,omitempty"` // GSI sort key
	Status    Status   `dynamodbav:"status" json:"status"`                         // GSI partition key
}

// Identity is the authenticated performer of a session.
type Identity struct {
	Name  string
	Email string
}

// ActionRequest is a validated start/end report. Timestamp is nil when the server clock applies.
type ActionRequest struct {
	SessionID string
	Action    Action
	Timestamp *time.Time
}

// CompletedEvent is published once a session reaches COMPLETED.
type CompletedEvent struct {
	UserName    string          `json:"user_name"`
	SessionID   string          `json:"session_id"`
	Duration    decimal.Decimal `json:"duration"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Key identifies the session an event belongs to.
func (e CompletedEvent) Key() string {
	return e.UserName + "#" + e.SessionID
}
