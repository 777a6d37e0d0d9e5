package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/imrishuroy/session-leaderboard/internal/auth"
	"github.com/imrishuroy/session-leaderboard/internal/leaderboard"
	"github.com/imrishuroy/session-leaderboard/internal/sessions"
	"github.com/imrishuroy/session-leaderboard/internal/validation"
)

const recordedMessage = "Session data recorded successfully!"

// ActionRecorder applies start/end actions.
type ActionRecorder interface {
	RecordAction(ctx context.Context, who sessions.Identity, req sessions.ActionRequest) error
}

// LeaderboardRanker builds the leaderboard.
type LeaderboardRanker interface {
	Rank(ctx context.Context, limit int) ([]leaderboard.Entry, error)
}

// HandlerConfig groups dependencies for the session routes.
type HandlerConfig struct {
	Recorder         ActionRecorder
	Ranker           LeaderboardRanker
	Verifier         auth.Verifier
	LeaderboardLimit int // default and maximum for ?limit
}

// RegisterSessionRoutes registers POST /report (authenticated) and GET /leaderboard (public).
func RegisterSessionRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	maxLimit := cfg.LeaderboardLimit
	if maxLimit <= 0 {
		maxLimit = leaderboard.DefaultLimit
	}

	r.POST("/report", auth.Middleware(cfg.Verifier), func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.RecordActionRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		id, ok := auth.IdentityFrom(c)
		if !ok {
			writeError(c, auth.ErrUnauthenticated)
			return
		}

		action, err := req.ToActionRequest()
		if err != nil {
			writeError(c, err)
			return
		}

		if err := cfg.Recorder.RecordAction(ctx, sessions.Identity{Name: id.Name, Email: id.Email}, action); err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"statusCode": http.StatusOK, "message": recordedMessage})
	})

	r.GET("/leaderboard", func(c *gin.Context) {
		limit := maxLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{
					"statusCode": http.StatusBadRequest,
					"error":      "invalid_limit",
					"message":    "limit must be a positive integer",
				})
				return
			}
			limit = min(n, maxLimit)
		}

		entries, err := cfg.Ranker.Rank(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}

// writeError maps domain errors to the HTTP error body.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, sessions.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, auth.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, sessions.ErrSessionAlreadyCompleted):
		status, code = http.StatusConflict, "session_already_completed"
	case errors.Is(err, sessions.ErrSessionRestarted):
		status, code = http.StatusConflict, "session_restarted"
	case errors.Is(err, sessions.ErrSessionNotFound):
		// reported as a server error, as clients of the service have always seen it
		code = "session_not_found"
	}

	logger := log.Ctx(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	} else {
		logger.Warn().Err(err).Str("path", c.FullPath()).Msg("request rejected")
	}

	c.JSON(status, gin.H{"statusCode": status, "error": code, "message": err.Error()})
}
