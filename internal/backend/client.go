package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Common client errors.
var (
	ErrNoCSRF          = errors.New("missing CSRF token")
	ErrInvalidResponse = errors.New("invalid backend response")
	ErrInvalidExam     = errors.New("invalid exam definition")
)

// APIError is a response the backend produced but that does not mean success:
// a non-2xx status, or a 2xx envelope whose status field says otherwise.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Routes are the backend paths, relative to the base URL.
type Routes struct {
	CSRF         string
	GetExam      string
	StartExam    string
	SaveProgress string
	SubmitExam   string
	AnalyzeExam  string
}

// DefaultRoutes matches the PHP backend layout.
func DefaultRoutes() Routes {
	return Routes{
		CSRF:         "/routes/get_csrf.php",
		GetExam:      "/routes/exam/get_exam.php",
		StartExam:    "/routes/exam/start_exam.php",
		SaveProgress: "/routes/exam/save_progress.php",
		SubmitExam:   "/routes/exam/submit_exam.php",
		AnalyzeExam:  "/routes/exam/analyze_exam.php",
	}
}

// Client talks JSON to the exam backend on behalf of one user.
type Client struct {
	baseURL    string
	routes     Routes
	cookie     string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithCookie forwards the user's session cookie header on every request.
func WithCookie(cookie string) Option {
	return func(c *Client) { c.cookie = cookie }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRoutes overrides the backend paths.
func WithRoutes(r Routes) Option {
	return func(c *Client) { c.routes = r }
}

// New creates a Client for baseURL.
func New(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		routes:  DefaultRoutes(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With().Str("component", "backend_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusEnvelope is the minimal shape every backend response shares.
type statusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// do performs one request. Mutating requests require csrf. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, csrf string, body, out interface{}) error {
	if method != http.MethodGet && csrf == "" {
		return ErrNoCSRF
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Backend call")

	if resp.StatusCode >= 300 {
		var env statusEnvelope
		_ = json.Unmarshal(raw, &env)
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}
