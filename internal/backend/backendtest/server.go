// Package backendtest runs an in-process stand-in for the exam backend. It
// applies submissions idempotently per attempt, like the real server must.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/actionlog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CSRFToken is the token the fake hands out.
const CSRFToken = "csrf-test-token"

// Attempt is the server-side record of one exam attempt.
type Attempt struct {
	Status      model.AttemptStatus
	Answers     model.AnswerMap
	Actions     []actionlog.Record
	Saves       int
	Submits     int
	Completions int
}

// Exam is a fixture served by GetExam.
type Exam struct {
	Title           string
	DurationMinutes int
	Questions       []model.Question
	TimeLeft        int
	Analysis        json.RawMessage
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	exams    map[string]*Exam
	attempts map[string]*Attempt

	// FailSubmits makes the next n submit calls return HTTP 503.
	FailSubmits int
	// RejectStart makes start return a non-started status.
	RejectStart bool
}

type progressBody struct {
	ExamID  string             `json:"exam_id"`
	Answers model.AnswerMap    `json:"answers_json"`
	Actions []actionlog.Record `json:"actions_json"`
}

// New starts a fake backend. Close it with s.Close.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		exams:    make(map[string]*Exam),
		attempts: make(map[string]*Attempt),
	}

	r := gin.New()
	r.GET("/routes/get_csrf.php", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "csrf_token": CSRFToken})
	})

	routes := r.Group("/routes/exam")
	routes.GET("/get_exam.php", s.getExam)

	mutating := routes.Group("")
	mutating.Use(requireCSRF)
	mutating.POST("/start_exam.php", s.startExam)
	mutating.POST("/save_progress.php", s.saveProgress)
	mutating.POST("/submit_exam.php", s.submitExam)
	mutating.POST("/analyze_exam.php", s.analyzeExam)

	s.Server = httptest.NewServer(r)
	return s
}

func requireCSRF(c *gin.Context) {
	if c.GetHeader("X-CSRF-Token") != CSRFToken {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "message": "invalid csrf"})
		return
	}
	c.Next()
}

// AddExam registers a fixture and a fresh not_started attempt for it.
func (s *Server) AddExam(id string, e *Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[id] = e
	s.attempts[id] = &Attempt{Status: model.AttemptNotStarted, Answers: model.AnswerMap{}}
}

// SetStatus overrides the attempt status.
func (s *Server) SetStatus(id string, status model.AttemptStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id].Status = status
}

// Attempt returns a copy of the attempt record.
func (s *Server) Attempt(id string) Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *s.attempts[id]
	a.Answers = a.Answers.Clone()
	a.Actions = append([]actionlog.Record(nil), a.Actions...)
	return a
}

func (s *Server) getExam(c *gin.Context) {
	id := c.Query("exam_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exams[id]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "Exam not found"})
		return
	}
	exam := gin.H{
		"title":       e.Title,
		"duration":    e.DurationMinutes,
		"questions":   e.Questions,
		"exam_status": s.attempts[id].Status,
	}
	if len(e.Analysis) > 0 {
		exam["ai_analysis"] = e.Analysis
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "exam": exam})
}

func (s *Server) startExam(c *gin.Context) {
	var body struct {
		ExamID string `json:"exam_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[body.ExamID]
	if !ok || s.RejectStart || a.Status != model.AttemptNotStarted {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "Unable to start exam"})
		return
	}
	a.Status = model.AttemptInProgress

	e := s.exams[body.ExamID]
	left := e.TimeLeft
	if left == 0 {
		left = e.DurationMinutes * 60
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "time_left": left})
}

func (s *Server) saveProgress(c *gin.Context) {
	var body progressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[body.ExamID]
	if !ok || a.Status != model.AttemptInProgress {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": "attempt not in progress"})
		return
	}
	a.Saves++
	a.Answers = body.Answers
	a.Actions = body.Actions
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) submitExam(c *gin.Context) {
	var body progressBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[body.ExamID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Exam not found"})
		return
	}
	a.Submits++

	if s.FailSubmits > 0 {
		s.FailSubmits--
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "temporarily unavailable"})
		return
	}

	// Replays after the first completion are no-ops with the same result.
	if a.Status != model.AttemptCompleted {
		a.Status = model.AttemptCompleted
		a.Answers = body.Answers
		a.Actions = body.Actions
		a.Completions++
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) analyzeExam(c *gin.Context) {
	var body struct {
		ExamID string `json:"exam_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[body.ExamID]
	if !ok || a.Status != model.AttemptCompleted {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "exam not submitted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"analysis": gin.H{
			"score":              gin.H{"correct": len(a.Answers), "total": len(s.exams[body.ExamID].Questions)},
			"cheating_suspicion": gin.H{"level": "low"},
		},
	})
}
