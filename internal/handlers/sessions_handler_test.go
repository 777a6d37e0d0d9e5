package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/session-leaderboard/internal/auth"
	"github.com/imrishuroy/session-leaderboard/internal/aws/awsfake"
	"github.com/imrishuroy/session-leaderboard/internal/leaderboard"
	"github.com/imrishuroy/session-leaderboard/internal/sessions"
)

type tokenVerifier map[string]auth.Identity

func (v tokenVerifier) Verify(ctx context.Context, token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return id, nil
}

var testVerifier = tokenVerifier{
	"alice-token": {Name: "alice", Email: "alice@example.com"},
	"bob-token":   {Name: "bob", Email: "bob@example.com"},
	"carol-token": {Name: "carol", Email: "carol@example.com"},
}

type testServer struct {
	router *gin.Engine
	db     *awsfake.DynamoDB
	now    time.Time
}

func newTestServer(t *testing.T, opts ...sessions.RecorderOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := awsfake.NewDynamoDB()
	db.CreateTable("sessions", "user_name", "session_id")
	db.CreateIndex("sessions", "status-duration-index", "status", "duration")
	store := sessions.NewStore(db, "sessions", "status-duration-index")

	s := &testServer{db: db, now: time.Unix(1000, 0).UTC()}
	opts = append([]sessions.RecorderOption{sessions.WithClock(func() time.Time { return s.now })}, opts...)

	s.router = gin.New()
	RegisterSessionRoutes(s.router, HandlerConfig{
		Recorder:         sessions.NewRecorder(store, opts...),
		Ranker:           leaderboard.NewRanker(store, 2),
		Verifier:         testVerifier,
		LeaderboardLimit: 3,
	})
	return s
}

func (s *testServer) report(t *testing.T, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (s *testServer) leaderboard(t *testing.T, query string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaderboard"+query, nil))
	return w
}

// play starts and ends a session lasting d.
func (s *testServer) play(t *testing.T, token, sessionID string, d time.Duration) {
	t.Helper()
	code, _ := s.report(t, token, `{"sessionid":"`+sessionID+`","action":"start"}`)
	require.Equal(t, http.StatusOK, code)
	s.now = s.now.Add(d)
	code, _ = s.report(t, token, `{"sessionid":"`+sessionID+`","action":"end"}`)
	require.Equal(t, http.StatusOK, code)
}

func TestReport_StartAndEnd(t *testing.T) {
	s := newTestServer(t)

	code, body := s.report(t, "alice-token", `{"sessionid":"s1","action":"start"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"statusCode": float64(200), "message": "Session data recorded successfully!"}, body)

	s.now = s.now.Add(42*time.Second + 750*time.Millisecond)
	code, _ = s.report(t, "alice-token", `{"sessionid":"s1","action":"end"}`)
	assert.Equal(t, http.StatusOK, code)

	w := s.leaderboard(t, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"user_name":"alice","sessionid":"s1","duration":"42.75"}]`, w.Body.String())
}

func TestReport_Unauthenticated(t *testing.T) {
	s := newTestServer(t)

	for name, token := range map[string]string{"missing": "", "unknown": "mallory-token"} {
		t.Run(name, func(t *testing.T) {
			code, body := s.report(t, token, `{"sessionid":"s1","action":"start"}`)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "unauthorized", body["error"])
		})
	}
	assert.Equal(t, 0, s.db.PutCalls)
}

func TestReport_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	for name, body := range map[string]string{
		"not json":          `{"sessionid":`,
		"missing sessionid": `{"action":"start"}`,
		"unknown action":    `{"sessionid":"s1","action":"pause"}`,
		"no action":         `{"sessionid":"s1"}`,
		"two fields":        `{"sessionid":"s1","action":"start","end":"1970-01-01T00:16:40Z"}`,
	} {
		t.Run(name, func(t *testing.T) {
			code, out := s.report(t, "alice-token", body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, float64(400), out["statusCode"])
		})
	}
	assert.Equal(t, 0, s.db.PutCalls)
}

func TestReport_EndWithoutStart(t *testing.T) {
	s := newTestServer(t)

	code, body := s.report(t, "bob-token", `{"sessionid":"s9","action":"end"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "session_not_found", body["error"])
	assert.Equal(t, 0, s.db.UpdateCalls)
}

func TestReport_DoubleEnd(t *testing.T) {
	s := newTestServer(t)
	s.play(t, "alice-token", "s1", 5*time.Second)

	s.now = s.now.Add(time.Second)
	code, body := s.report(t, "alice-token", `{"sessionid":"s1","action":"end"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "session_already_completed", body["error"])

	w := s.leaderboard(t, "")
	assert.JSONEq(t, `[{"user_name":"alice","sessionid":"s1","duration":"5"}]`, w.Body.String())
}

func TestReport_ClientTimestamps(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		s := newTestServer(t)
		code, _ := s.report(t, "alice-token", `{"sessionid":"s1","start":"1970-01-01T00:16:40Z"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, 0, s.db.PutCalls)
	})

	t.Run("fresh timestamps accepted", func(t *testing.T) {
		s := newTestServer(t, sessions.WithClientTimestamps(true))
		code, _ := s.report(t, "alice-token", `{"sessionid":"s1","start":"1970-01-01T00:16:30.5Z"}`)
		require.Equal(t, http.StatusOK, code)
		code, _ = s.report(t, "alice-token", `{"sessionid":"s1","end":"1970-01-01T00:16:40Z"}`)
		require.Equal(t, http.StatusOK, code)

		w := s.leaderboard(t, "")
		assert.JSONEq(t, `[{"user_name":"alice","sessionid":"s1","duration":"9.5"}]`, w.Body.String())
	})

	t.Run("stale and future timestamps rejected", func(t *testing.T) {
		s := newTestServer(t, sessions.WithClientTimestamps(true))
		code, _ := s.report(t, "alice-token", `{"sessionid":"s1","start":"1970-01-01T00:11:39Z"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		code, _ = s.report(t, "alice-token", `{"sessionid":"s1","start":"1970-01-01T00:16:41Z"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, 0, s.db.PutCalls)
	})
}

func TestLeaderboard_UniquePerUser(t *testing.T) {
	s := newTestServer(t)
	s.play(t, "alice-token", "a1", 30*time.Second)
	s.play(t, "bob-token", "b1", 20*time.Second)
	s.play(t, "alice-token", "a2", 10*time.Second)
	s.play(t, "carol-token", "c1", 40*time.Second)

	w := s.leaderboard(t, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"user_name":"alice","sessionid":"a2","duration":"10"},
		{"user_name":"bob","sessionid":"b1","duration":"20"},
		{"user_name":"carol","sessionid":"c1","duration":"40"}
	]`, w.Body.String())

	w = s.leaderboard(t, "?limit=1")
	assert.JSONEq(t, `[{"user_name":"alice","sessionid":"a2","duration":"10"}]`, w.Body.String())

	// capped at the configured limit
	w = s.leaderboard(t, "?limit=50")
	var entries []leaderboard.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 3)
}

func TestLeaderboard_Empty(t *testing.T) {
	s := newTestServer(t)

	w := s.leaderboard(t, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestLeaderboard_InvalidLimit(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{"?limit=0", "?limit=-2", "?limit=ten"} {
		w := s.leaderboard(t, q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	assert.Equal(t, 0, s.db.QueryCalls)
}

func TestLeaderboard_SourceFailure(t *testing.T) {
	s := newTestServer(t)
	s.play(t, "alice-token", "a1", 3*time.Second)
	s.db.QueryErr = errors.New("throttled")

	w := s.leaderboard(t, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
}

type failingRecorder struct{ err error }

func (r failingRecorder) RecordAction(ctx context.Context, who sessions.Identity, req sessions.ActionRequest) error {
	return r.err
}

func TestReport_ErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{sessions.ErrSessionNotFound, http.StatusInternalServerError, "session_not_found"},
		{sessions.ErrSessionAlreadyCompleted, http.StatusConflict, "session_already_completed"},
		{sessions.ErrSessionRestarted, http.StatusConflict, "session_restarted"},
		{sessions.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{errors.New("dynamo down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			r := gin.New()
			RegisterSessionRoutes(r, HandlerConfig{Recorder: failingRecorder{err: tt.err}, Verifier: testVerifier})
			s := &testServer{router: r}

			code, body := s.report(t, "alice-token", `{"sessionid":"s1","action":"end"}`)
			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantCode, body["error"])
		})
	}
}
