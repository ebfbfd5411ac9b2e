package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 2 * time.Second // prevent a stalled session loop from blocking the SSE loop
)

type MonitorHandler struct {
	monitor  *repository.MonitorRepository
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewMonitorHandler creates a MonitorHandler. monitor may be nil when no
// Redis is configured; only ListSessions works then.
func NewMonitorHandler(monitor *repository.MonitorRepository, sessions *service.SessionService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor:  monitor,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ListSessions godoc
// GET /api/v1/proctor/exams/:exam_id/sessions
// Returns the live sessions this agent runs for the exam.
func (h *MonitorHandler) ListSessions(c *gin.Context) {
	examID := c.Param("exam_id")
	if err := validator.Var(examID, examIDRule); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	response.Success(c, http.StatusOK, gin.H{
		"exam_id":  examID,
		"students": h.sessions.Snapshots(ctx, examID),
	})
}

// MonitorExamSSE godoc
// GET /api/v1/proctor/exams/:exam_id/monitor
// Streams every action record of the exam, from every agent, as SSE.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	if h.monitor == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorUnavailable)
		return
	}

	examID := c.Param("exam_id")
	if err := validator.Var(examID, examIDRule); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()
	log := response.RequestLogger(c, h.log).With().Str("exam_id", examID).Logger()

	// Subscribe before the snapshot so no record falls in between.
	pubsub := h.monitor.Subscribe(reqCtx, examID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		log.Error().Err(err).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorUnavailable)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, examID, "snapshot")

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	watcher := middleware.GetIdentity(c)
	if watcher != nil {
		log = log.With().Int("proctor_id", watcher.UserID).Logger()
	}
	log.Info().Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := h.monitor.Decode(msg)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping malformed monitor event")
				continue
			}
			c.SSEvent("message", gin.H{"type": "action", "data": ev})
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, examID, "refresh")

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// sendSnapshot sends the live sessions this agent holds for the exam.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, examID, kind string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	c.SSEvent("message", gin.H{
		"type": kind,
		"data": gin.H{
			"exam_id":  examID,
			"students": h.sessions.Snapshots(ctx, examID),
		},
	})
	c.Writer.Flush()
}
