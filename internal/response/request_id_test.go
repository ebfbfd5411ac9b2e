package response

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"missing", "", false},
		{"plain", "req-42.a_b", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"newline", "abc\ninjected", false},
		{"space", "abc def", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.GET("/", func(c *gin.Context) {
				reqLog := RequestLogger(c, zerolog.New(&buf))
				reqLog.Info().Msg("hit")
				Success(c, http.StatusOK, nil)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.reused {
				if got != tt.header {
					t.Errorf("id = %q, want %q", got, tt.header)
				}
			} else if _, err := uuid.Parse(got); err != nil {
				t.Errorf("id = %q, want a fresh uuid", got)
			}
			if !strings.Contains(buf.String(), `"request_id":"`+got+`"`) {
				t.Errorf("log line %q lacks the request id", buf.String())
			}
			if !strings.Contains(w.Body.String(), got) {
				t.Errorf("metadata lacks the request id: %s", w.Body.String())
			}
		})
	}
}
