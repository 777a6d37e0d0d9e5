package logging

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogger attaches a logger carrying a request id to the request context and logs
// the start and completion of every request. An incoming X-Request-Id is reused.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := log.With().Str("request_id", requestID).Logger().WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		logger := log.Ctx(ctx)
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote_ip", c.ClientIP()).
			Msg("incoming request")

		c.Next()

		logger.Info().
			Int("status", c.Writer.Status()).
			Str("duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds())).
			Msg("request completed")
	}
}

func newRequestID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}
