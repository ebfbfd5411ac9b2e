package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stemsi/exstem-proctor/internal/actionlog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Exam is a loaded exam plus the server's view of the user's attempt.
type Exam struct {
	Definition model.ExamDefinition
	Status     model.AttemptStatus
	// Analysis is the stored post-exam analysis, raw, if any.
	Analysis json.RawMessage
}

// StartResult is the server's acknowledgement of a started attempt.
type StartResult struct {
	// TimeLeft is the remaining budget in seconds; zero when the server
	// did not send one.
	TimeLeft int
}

// Progress is the body of both Save Progress and Submit Exam.
type Progress struct {
	ExamID  string             `json:"exam_id"`
	Answers model.AnswerMap    `json:"answers_json"`
	Actions []actionlog.Record `json:"actions_json"`
}

type csrfResponse struct {
	Status    string `json:"status"`
	CSRFToken string `json:"csrf_token"`
}

type examPayload struct {
	Title      string              `json:"title"`
	Duration   json.Number         `json:"duration"`
	Questions  []model.Question    `json:"questions"`
	ExamStatus model.AttemptStatus `json:"exam_status"`
	AIAnalysis json.RawMessage     `json:"ai_analysis"`
}

type examResponse struct {
	statusEnvelope
	Exam *examPayload `json:"exam"`
}

type startResponse struct {
	statusEnvelope
	TimeLeft json.Number `json:"time_left"`
}

type analyzeResponse struct {
	statusEnvelope
	Analysis json.RawMessage `json:"analysis"`
}

// CSRFToken fetches the anti-forgery token attached to mutating requests.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	var res csrfResponse
	if err := c.do(ctx, http.MethodGet, c.routes.CSRF, nil, "", nil, &res); err != nil {
		return "", fmt.Errorf("get csrf: %w", err)
	}
	if res.Status != "ok" || res.CSRFToken == "" {
		return "", ErrNoCSRF
	}
	return res.CSRFToken, nil
}

// GetExam loads the exam definition and the attempt status.
func (c *Client) GetExam(ctx context.Context, examID string) (*Exam, error) {
	var res examResponse
	q := url.Values{"exam_id": {examID}}
	if err := c.do(ctx, http.MethodGet, c.routes.GetExam, q, "", nil, &res); err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if res.Status != "success" || res.Exam == nil {
		msg := res.Message
		if msg == "" {
			msg = "exam not found"
		}
		return nil, &APIError{Status: http.StatusOK, Message: msg}
	}

	minutes, err := numberOrZero(res.Exam.Duration)
	if err != nil {
		return nil, fmt.Errorf("%w: duration: %v", ErrInvalidExam, err)
	}

	status := res.Exam.ExamStatus
	if status == "" {
		status = model.AttemptNotStarted
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown exam_status %q", ErrInvalidExam, status)
	}

	exam := &Exam{
		Definition: model.ExamDefinition{
			ID:        examID,
			Title:     res.Exam.Title,
			Duration:  time.Duration(minutes) * time.Minute,
			Questions: res.Exam.Questions,
		},
		Status:   status,
		Analysis: res.Exam.AIAnalysis,
	}

	// A finished attempt may come back without its questions.
	if status != model.AttemptCompleted {
		if err := validator.Err(validator.Struct(&exam.Definition)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExam, err)
		}
	}
	return exam, nil
}

// StartExam asks the server to open the attempt.
func (c *Client) StartExam(ctx context.Context, csrf, examID string) (*StartResult, error) {
	var res startResponse
	body := map[string]string{"exam_id": examID}
	if err := c.do(ctx, http.MethodPost, c.routes.StartExam, nil, csrf, body, &res); err != nil {
		return nil, fmt.Errorf("start exam: %w", err)
	}
	if res.Status != "started" {
		return nil, &APIError{Status: http.StatusOK, Message: res.Message}
	}
	left, err := numberOrZero(res.TimeLeft)
	if err != nil {
		return nil, fmt.Errorf("%w: time_left: %v", ErrInvalidResponse, err)
	}
	return &StartResult{TimeLeft: left}, nil
}

// SaveProgress pushes the in-progress answers and action log.
func (c *Client) SaveProgress(ctx context.Context, csrf string, p Progress) error {
	if err := c.do(ctx, http.MethodPost, c.routes.SaveProgress, nil, csrf, p, nil); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// SubmitExam delivers the final answers and action log. The server treats it
// as idempotent per attempt.
func (c *Client) SubmitExam(ctx context.Context, csrf string, p Progress) error {
	var res statusEnvelope
	if err := c.do(ctx, http.MethodPost, c.routes.SubmitExam, nil, csrf, p, &res); err != nil {
		return fmt.Errorf("submit exam: %w", err)
	}
	if res.Status != "success" {
		msg := res.Message
		if msg == "" {
			msg = "submit-failed"
		}
		return fmt.Errorf("submit exam: %w", &APIError{Status: http.StatusOK, Message: msg})
	}
	return nil
}

// AnalyzeExam requests the post-submission analysis.
func (c *Client) AnalyzeExam(ctx context.Context, csrf, examID string) (*model.Analysis, error) {
	var res analyzeResponse
	body := map[string]string{"exam_id": examID}
	if err := c.do(ctx, http.MethodPost, c.routes.AnalyzeExam, nil, csrf, body, &res); err != nil {
		return nil, fmt.Errorf("analyze exam: %w", err)
	}
	if res.Status != "success" {
		return nil, fmt.Errorf("analyze exam: %w", &APIError{Status: http.StatusOK, Message: res.Message})
	}
	a, err := model.DecodeAnalysis(res.Analysis)
	if err != nil {
		return nil, fmt.Errorf("analyze exam: %w", err)
	}
	return a, nil
}

func numberOrZero(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
