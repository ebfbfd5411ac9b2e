package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Response is the JSON envelope of every plain HTTP endpoint. The SSE
// monitor stream and the WebSocket session use their own framing.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody carries a stable code plus its localized message.
type ErrorBody struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// Metadata ties a response back to its log lines.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Success writes data with statusCode.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, envelope(c, data, nil))
}

// Fail writes the error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, newErrorBody(code)))
}

// AbortFail is Fail for middlewares; handlers further down the chain are skipped.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, newErrorBody(code)))
}

// Recovery turns a handler panic into a logged INTERNAL_ERROR envelope.
// Upgraded WebSocket connections are only logged; their writer is hijacked.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		reqLog := RequestLogger(c, log)
		reqLog.Error().
			Interface("panic", recovered).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("Handler panicked")
		if c.Writer.Written() {
			c.Abort()
			return
		}
		AbortFail(c, http.StatusInternalServerError, ErrInternal)
	})
}

func newErrorBody(code ErrCode) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code)}
}

func envelope(c *gin.Context, data interface{}, errBody *ErrorBody) Response {
	now := time.Now()
	md := Metadata{
		RequestID: c.GetString(ContextKeyRequestID),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if md.RequestID == "" {
		md.RequestID = uuid.NewString()
	}
	if start := c.GetTime(contextKeyRequestStart); !start.IsZero() {
		md.ElapsedMS = now.Sub(start).Milliseconds()
	}
	return Response{Data: data, Error: errBody, Metadata: md}
}
