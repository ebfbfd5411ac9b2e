package response

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func newRouter(log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(Recovery(log))
	return r
}

func serve(r *gin.Engine, path string) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRecoveryWritesInternalError(t *testing.T) {
	var buf bytes.Buffer
	r := newRouter(zerolog.New(&buf))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w, body := serve(r, "/boom")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if body.Error == nil || body.Error.Code != ErrInternal || body.Error.Message != GetMessage(ErrInternal) {
		t.Errorf("error = %+v", body.Error)
	}
	if body.Metadata.RequestID != "req-1" {
		t.Errorf("request id = %q", body.Metadata.RequestID)
	}
	line := buf.String()
	if !strings.Contains(line, "kaboom") || !strings.Contains(line, `"request_id":"req-1"`) || !strings.Contains(line, `"path":"/boom"`) {
		t.Errorf("panic log = %q", line)
	}
}

func TestEnvelopes(t *testing.T) {
	r := newRouter(zerolog.Nop())
	r.GET("/ok", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"n": 1}) })
	r.GET("/fail", func(c *gin.Context) { Fail(c, http.StatusBadRequest, ErrInvalidID) })
	r.GET("/abort", func(c *gin.Context) {
		AbortFail(c, http.StatusForbidden, ErrProctorAccessOnly)
	}, func(c *gin.Context) { t.Error("handler ran after AbortFail") })

	tests := []struct {
		path   string
		status int
		code   ErrCode
	}{
		{"/ok", http.StatusOK, ""},
		{"/fail", http.StatusBadRequest, ErrInvalidID},
		{"/abort", http.StatusForbidden, ErrProctorAccessOnly},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w, body := serve(r, tt.path)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.code == "" {
				if body.Error != nil || body.Data == nil {
					t.Errorf("body = %+v", body)
				}
			} else if body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("error = %+v, want %s", body.Error, tt.code)
			}
			if body.Metadata.RequestID != "req-1" || body.Metadata.Timestamp == "" || body.Metadata.ElapsedMS < 0 {
				t.Errorf("metadata = %+v", body.Metadata)
			}
		})
	}
}

func TestEnvelopeWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Fail(c, http.StatusBadRequest, ErrInvalidPayload)

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Metadata.RequestID == "" || body.Metadata.ElapsedMS != 0 {
		t.Errorf("metadata = %+v", body.Metadata)
	}
	if body.Error.Code != ErrInvalidPayload {
		t.Errorf("code = %s", body.Error.Code)
	}
}
