package validation

import (
	"fmt"
	"time"

	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

// RecordActionRequest is the payload for POST /report. Exactly one of Action, Start or End is
// set: Action uses the server clock, Start/End carry a client ISO-8601 timestamp.
type RecordActionRequest struct {
	SessionID string `json:"sessionid" validate:"required,max=256"`
	Action    string `json:"action,omitempty" validate:"omitempty,oneof=start end"`
	Start     string `json:"start,omitempty" validate:"omitempty,iso8601"`
	End       string `json:"end,omitempty" validate:"omitempty,iso8601"`
}

// ToActionRequest converts a validated payload into the recorder's request.
func (r RecordActionRequest) ToActionRequest() (sessions.ActionRequest, error) {
	out := sessions.ActionRequest{SessionID: r.SessionID}
	switch {
	case r.Action != "":
		out.Action = sessions.Action(r.Action)
	case r.Start != "":
		ts, err := ParseTimestamp(r.Start)
		if err != nil {
			return out, err
		}
		out.Action, out.Timestamp = sessions.ActionStart, &ts
	case r.End != "":
		ts, err := ParseTimestamp(r.End)
		if err != nil {
			return out, err
		}
		out.Action, out.Timestamp = sessions.ActionEnd, &ts
	default:
		return out, fmt.Errorf("%w: one of action, start or end is required", sessions.ErrInvalidInput)
	}
	return out, nil
}

// ParseTimestamp parses an ISO-8601 instant with or without fractional seconds,
// e.g. 2024-05-01T10:00:00Z or 2024-05-01T10:00:00.123Z.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q is not ISO-8601: %v", sessions.ErrInvalidInput, s, err)
	}
	return ts, nil
}
