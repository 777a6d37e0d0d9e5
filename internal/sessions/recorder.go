package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// FreshnessWindow is how far in the past a client-supplied timestamp may lie.
const FreshnessWindow = 300 * time.Second

// SessionStore is the persistence the Recorder needs.
type SessionStore interface {
	Put(ctx context.Context, sess Session) error
	GetStart(ctx context.Context, userName, sessionID string) (*Seconds, error)
	Complete(ctx context.Context, userName, sessionID string, start, end, duration Seconds) error
}

// Notifier is told about sessions that reached COMPLETED.
type Notifier interface {
	SessionCompleted(ctx context.Context, ev CompletedEvent) error
}

// Recorder validates start/end actions and persists them.
type Recorder struct {
	store            SessionStore
	notifier         Notifier
	acceptClientTime bool
	nowFunc          func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithNotifier publishes a CompletedEvent after every successful end action.
func WithNotifier(n Notifier) RecorderOption {
	return func(r *Recorder) { r.notifier = n }
}

// WithClientTimestamps lets callers supply their own start/end instants, subject to
// ValidateTimestamp. By default the server clock is authoritative.
func WithClientTimestamps(accept bool) RecorderOption {
	return func(r *Recorder) { r.acceptClientTime = accept }
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.nowFunc = now }
}

func NewRecorder(store SessionStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordAction applies a start or end action for the given identity.
// It performs at most one write and none when validation fails.
func (r *Recorder) RecordAction(ctx context.Context, who Identity, req ActionRequest) error {
	if req.SessionID == "" {
		return fmt.Errorf("%w: sessionid is required", ErrInvalidInput)
	}

	at, err := r.instant(req.Timestamp)
	if err != nil {
		return err
	}

	switch req.Action {
	case ActionStart:
		return r.start(ctx, who, req.SessionID, at)
	case ActionEnd:
		return r.end(ctx, who, req.SessionID, at)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}
}

func (r *Recorder) instant(clientTS *time.Time) (Seconds, error) {
	now := SecondsOf(r.nowFunc())
	if clientTS == nil {
		return now, nil
	}
	if !r.acceptClientTime {
		return Seconds{}, fmt.Errorf("%w: client timestamps are not accepted", ErrInvalidInput)
	}
	ts := SecondsOf(*clientTS)
	if err := ValidateTimestamp(ts, now); err != nil {
		return Seconds{}, err
	}
	return ts, nil
}

func (r *Recorder) start(ctx context.Context, who Identity, sessionID string, at Seconds) error {
	sess := Session{
		UserName:  who.Name,
		SessionID: sessionID,
		Email:     who.Email,
		Start:     at,
		Status:    StatusInProgress,
	}
	if err := r.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Ctx(ctx).Info().
		Str("user_name", who.Name).
		Str("session_id", sessionID).
		Str("start", at.String()).
		Msg("session started")
	return nil
}

func (r *Recorder) end(ctx context.Context, who Identity, sessionID string, at Seconds) error {
	start, err := r.store.GetStart(ctx, who.Name, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if start == nil {
		return ErrSessionNotFound
	}

	duration := Seconds{at.Sub(start.Decimal)}
	if duration.IsNegative() {
		return fmt.Errorf("%w: end %s precedes start %s", ErrInvalidInput, at, start)
	}

	if err := r.store.Complete(ctx, who.Name, sessionID, *start, at, duration); err != nil {
		return err
	}

	logger := log.Ctx(ctx)
	logger.Info().
		Str("user_name", who.Name).
		Str("session_id", sessionID).
		Str("duration", duration.String()).
		Msg("session completed")

	if r.notifier != nil {
		ev := CompletedEvent{
			UserName:    who.Name,
			SessionID:   sessionID,
			Duration:    duration.Decimal,
			CompletedAt: at.Time(),
		}
		// the session write is committed; a failed notification does not fail the action
		if err := r.notifier.SessionCompleted(ctx, ev); err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish session completed event")
		}
	}
	return nil
}

// ValidateTimestamp accepts ts only if 0 <= now - ts <= FreshnessWindow.
func ValidateTimestamp(ts, now Seconds) error {
	age := now.Sub(ts.Decimal)
	if age.IsNegative() {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidInput, ts)
	}
	if age.GreaterThan(decimal.NewFromInt(int64(FreshnessWindow / time.Second))) {
		return fmt.Errorf("%w: timestamp %s is older than %s", ErrInvalidInput, ts, FreshnessWindow)
	}
	return nil
}
