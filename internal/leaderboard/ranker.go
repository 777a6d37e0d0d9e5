// Package leaderboard selects the fastest completed session per user from a stream of
// completed sessions that the store already delivers in ascending duration order.
package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

// DefaultLimit is the number of entries returned when no limit is configured.
const DefaultLimit = 10

// ErrSourceFailed wraps any failure reading the completed-session stream.
var ErrSourceFailed = errors.New("leaderboard source failed")

// Entry is one leaderboard row. Duration marshals to a JSON string.
type Entry struct {
	UserName  string          `json:"user_name"`
	SessionID string          `json:"sessionid"`
	Duration  decimal.Decimal `json:"duration"`
}

// Source yields completed sessions fastest first, one page per request.
type Source interface {
	CompletedSessions(pageSize int32) sessions.Pager
}

// Ranker builds leaderboards from a Source.
type Ranker struct {
	source   Source
	pageSize int32
}

// NewRanker returns a Ranker reading pageSize records per request; pageSize <= 0 leaves the
// page size to the store.
func NewRanker(source Source, pageSize int32) *Ranker {
	return &Ranker{source: source, pageSize: pageSize}
}

type scanState int

const (
	scanning scanState = iota
	stopConditionMet
	sourceExhausted
)

// selection is the bounded result of a scan: at most limit entries, one per user.
type selection struct {
	limit    int
	entries  []Entry
	admitted map[string]struct{}
}

func newSelection(limit int) *selection {
	return &selection{
		limit:    limit,
		entries:  make([]Entry, 0, limit),
		admitted: make(map[string]struct{}, limit),
	}
}

// offer considers the next record of the stream and returns the resulting scan state.
// Records arrive in ascending duration order, so a user's first record is their fastest and
// once limit users are admitted no later record can enter the board.
func (s *selection) offer(sess sessions.Session) scanState {
	if len(s.entries) >= s.limit {
		return stopConditionMet
	}
	if _, seen := s.admitted[sess.UserName]; seen {
		return scanning
	}
	if sess.Duration == nil {
		return scanning
	}
	s.admitted[sess.UserName] = struct{}{}
	s.entries = append(s.entries, Entry{
		UserName:  sess.UserName,
		SessionID: sess.SessionID,
		Duration:  sess.Duration.Decimal,
	})
	if len(s.entries) == s.limit {
		return stopConditionMet
	}
	return scanning
}

// Rank returns up to limit entries, fastest first, at most one per user. Pages are fetched
// sequentially and only while the result can still change. A source failure returns no entries.
func (r *Ranker) Rank(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}

	sel := newSelection(limit)
	pager := r.source.CompletedSessions(r.pageSize)
	pages, records := 0, 0

	state := scanning
	for state == scanning {
		if !pager.HasMorePages() {
			state = sourceExhausted
			continue
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrSourceFailed, pages+1, err)
		}
		pages++
		for i := 0; i < len(page) && state == scanning; i++ {
			records++
			state = sel.offer(page[i])
		}
	}

	log.Ctx(ctx).Debug().
		Int("limit", limit).
		Int("pages", pages).
		Int("records", records).
		Int("entries", len(sel.entries)).
		Bool("exhausted", state == sourceExhausted).
		Msg("leaderboard ranked")

	return sel.entries, nil
}
