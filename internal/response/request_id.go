package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

const contextKeyRequestStart = "request_start"

// maxRequestIDLength bounds caller-supplied ids so they stay log-safe.
const maxRequestIDLength = 64

// RequestIDMiddleware tags every request with an id. A caller's X-Request-ID
// is reused when it is short and plain; anything else is replaced.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Set(contextKeyRequestStart, time.Now())
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

// RequestLogger returns base with the request id attached, when there is one.
func RequestLogger(c *gin.Context, base zerolog.Logger) zerolog.Logger {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		return base
	}
	return base.With().Str("request_id", id).Logger()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
