package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

// scriptedSource serves fixed pages and counts how many were fetched.
type scriptedSource struct {
	pages   [][]sessions.Session
	failAt  int // 1-based page number that fails; 0 never fails
	err     error
	fetched int
}

func (s *scriptedSource) CompletedSessions(pageSize int32) sessions.Pager {
	return &scriptedPager{src: s}
}

type scriptedPager struct {
	src  *scriptedSource
	next int
}

func (p *scriptedPager) HasMorePages() bool { return p.next < len(p.src.pages) }

func (p *scriptedPager) NextPage(ctx context.Context) ([]sessions.Session, error) {
	p.src.fetched++
	if p.src.failAt == p.next+1 {
		return nil, p.src.err
	}
	page := p.src.pages[p.next]
	p.next++
	return page, nil
}

func completed(user, id, duration string) sessions.Session {
	d := sessions.MustSeconds(duration)
	return sessions.Session{UserName: user, SessionID: id, Duration: &d, Status: sessions.StatusCompleted}
}

func summary(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserName + ":" + e.Duration.String()
	}
	return out
}

func TestRank_SkipsSlowerDuplicates(t *testing.T) {
	src := &scriptedSource{pages: [][]sessions.Session{{
		completed("alice", "a2", "3.0"),
		completed("bob", "b1", "5.0"),
		completed("alice", "a1", "5.0"),
	}}}

	got, err := NewRanker(src, 25).Rank(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice:3", "bob:5"}, summary(got))
	assert.Equal(t, "a2", got[0].SessionID)
}

func TestRank_StopsFetchingOnceBoardIsFull(t *testing.T) {
	src := &scriptedSource{pages: [][]sessions.Session{
		{completed("a", "1", "1"), completed("b", "1", "2")},
		{completed("c", "1", "3"), completed("d", "1", "4")},
		{completed("e", "1", "5")},
	}}

	got, err := NewRanker(src, 2).Rank(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, summary(got))
	assert.Equal(t, 1, src.fetched, "no page beyond the first may be fetched")
}

func TestRank_StopsMidPage(t *testing.T) {
	src := &scriptedSource{pages: [][]sessions.Session{
		{completed("a", "1", "1"), completed("a", "2", "1.5"), completed("b", "1", "2"), completed("c", "1", "3")},
		{completed("d", "1", "4")},
	}}

	got, err := NewRanker(src, 4).Rank(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, summary(got))
	assert.Equal(t, 1, src.fetched)
}

func TestRank_ReadsUntilExhausted(t *testing.T) {
	src := &scriptedSource{pages: [][]sessions.Session{
		{completed("a", "1", "1"), completed("a", "2", "2")},
		{},
		{completed("a", "3", "3"), completed("b", "1", "4")},
	}}

	got, err := NewRanker(src, 2).Rank(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:4"}, summary(got))
	assert.Equal(t, 3, src.fetched)
}

func TestRank_EmptySource(t *testing.T) {
	got, err := NewRanker(&scriptedSource{}, 10).Rank(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRank_NonPositiveLimitFetchesNothing(t *testing.T) {
	src := &scriptedSource{pages: [][]sessions.Session{{completed("a", "1", "1")}}}

	got, err := NewRanker(src, 10).Rank(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, src.fetched)
}

func TestRank_SourceFailureReturnsNoPartialBoard(t *testing.T) {
	boom := errors.New("provisioned throughput exceeded")
	src := &scriptedSource{
		pages: [][]sessions.Session{
			{completed("a", "1", "1")},
			{completed("b", "1", "2")},
		},
		failAt: 2,
		err:    boom,
	}

	got, err := NewRanker(src, 1).Rank(context.Background(), 10)
	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrSourceFailed)
	require.ErrorIs(t, err, boom)
}

// TestRank_MatchesBruteForce checks dedup, ordering, bound and top-K correctness against a
// per-user minimum computed over the whole data set.
func TestRank_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		users := 1 + rng.Intn(15)
		records := rng.Intn(60)
		limit := 1 + rng.Intn(12)
		pageSize := 1 + rng.Intn(7)

		// distinct durations keep the expected order unambiguous
		durations := rng.Perm(records)
		all := make([]sessions.Session, records)
		for i := range all {
			user := fmt.Sprintf("user-%d", rng.Intn(users))
			d := decimal.NewFromInt(int64(durations[i] + 1)).Div(decimal.NewFromInt(4))
			all[i] = completed(user, fmt.Sprintf("s-%d", i), d.String())
		}

		best := map[string]decimal.Decimal{}
		for _, s := range all {
			if cur, ok := best[s.UserName]; !ok || s.Duration.LessThan(cur) {
				best[s.UserName] = s.Duration.Decimal
			}
		}
		var want []string
		for user := range best {
			want = append(want, user)
		}
		sort.Slice(want, func(i, j int) bool { return best[want[i]].LessThan(best[want[j]]) })
		if len(want) > limit {
			want = want[:limit]
		}
		for i, user := range want {
			want[i] = user + ":" + best[user].String()
		}

		stream := append([]sessions.Session(nil), all...)
		sort.Slice(stream, func(i, j int) bool { return stream[i].Duration.LessThan(stream[j].Duration.Decimal) })
		src := &scriptedSource{}
		for start := 0; start < len(stream); start += pageSize {
			end := min(start+pageSize, len(stream))
			src.pages = append(src.pages, stream[start:end])
		}

		got, err := NewRanker(src, int32(pageSize)).Rank(context.Background(), limit)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(got), limit, "round %d", round)
		seen := map[string]bool{}
		for i, e := range got {
			assert.False(t, seen[e.UserName], "round %d: duplicate user %s", round, e.UserName)
			seen[e.UserName] = true
			if i > 0 {
				assert.False(t, e.Duration.LessThan(got[i-1].Duration), "round %d: out of order", round)
			}
		}
		if len(want) == 0 {
			assert.Empty(t, got, "round %d", round)
		} else {
			assert.Equal(t, want, summary(got), "round %d", round)
		}
	}
}
