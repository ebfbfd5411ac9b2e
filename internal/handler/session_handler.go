package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/i18n"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/sched"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// examIDRule constrains the exam_id path parameter.
const examIDRule = "required,numeric,max=20"

var errInvalidMessage = errors.New("invalid message")

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionDeps are the collaborators shared by every session the agent runs.
type SessionDeps struct {
	// Backend returns a client acting as the user holding cookie.
	Backend   func(cookie string) proctor.Backend
	Tabs      proctor.TabStore
	Beacon    proctor.Beacon
	Publisher proctor.RecordPublisher
	Locales   *i18n.Bundle
	Sessions  *service.SessionService
}

// SessionHandler runs one proctor.Session per WebSocket connection.
type SessionHandler struct {
	deps     SessionDeps
	cfg      *config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(deps SessionDeps, cfg *config.Config, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		deps:     deps,
		cfg:      cfg,
		log:      log.With().Str("component", "session_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/exams/:exam_id/session
// Upgrades to WebSocket and drives one exam attempt until the shim leaves.
func (h *SessionHandler) SessionStream(c *gin.Context) {
	id := middleware.GetIdentity(c)
	if id == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID := c.Param("exam_id")
	if err := validator.Var(examID, examIDRule); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	cookie := c.GetHeader("Cookie")
	lang := c.GetHeader("Accept-Language")

	reqLog := response.RequestLogger(c, h.log)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		reqLog.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	tab := uuid.NewString()
	wsLog := logger.ForAttempt(reqLog, examID, id.UserID, tab)

	peer := ws.NewPeer(conn, h.cfg.Proctoring.FullscreenDeadline, wsLog)
	go peer.WritePump()

	loop := sched.NewLoop(sched.SystemClock{}, wsLog)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	opts := proctor.Options{
		ExamID:    examID,
		Identity:  *id,
		Cookie:    cookie,
		Backend:   h.deps.Backend(cookie),
		Display:   peer,
		Events:    peer,
		Notifier:  peer,
		Executor:  loop,
		Scheduler: loop.Scheduler(),
		Tabs:      h.deps.Tabs,
		TabToken:  tab,
		Beacon:    h.deps.Beacon,
		Publisher: h.deps.Publisher,
		Config:    h.cfg.Proctoring,
		Logger:    wsLog,
	}
	if h.deps.Locales != nil {
		opts.Localizer = h.deps.Locales.Localizer(lang, h.cfg.Lang)
	}
	session := proctor.New(opts)
	unregister := h.deps.Sessions.Register(examID, tab, *id, session, loop)

	wsLog.Info().Msg("Student connected")

	defer func() {
		unregister()
		loop.Post(session.Close)
		cancel()
		<-loopDone
		peer.Close()
		wsLog.Info().Msg("Student disconnected")
	}()

	h.readLoop(conn, peer, loop, session, wsLog)
}

// readLoop decodes shim messages and hands them to the session loop until
// the connection ends.
func (h *SessionHandler) readLoop(conn *websocket.Conn, peer *ws.Peer, loop sched.Executor, session *proctor.Session, log zerolog.Logger) {
	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if ws.IsUnexpectedClose(err) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if fields := validator.Decode(data, &env); fields != nil {
			peer.SendError(env.Action, response.ErrInvalidPayload, errInvalidMessage, fields)
			continue
		}

		switch env.Action {
		case ws.ActionLoad:
			loop.Post(session.Load)

		case ws.ActionConfirmStart:
			var req ws.ConfirmStartRequest
			if !decode(peer, env.Action, data, &req) {
				continue
			}
			loop.Post(func() { reply(peer, env.Action, session.ConfirmStart(req.Acknowledged), nil) })

		case ws.ActionSelectAnswer:
			var req ws.SelectAnswerRequest
			if !decode(peer, env.Action, data, &req) {
				continue
			}
			loop.Post(func() { reply(peer, env.Action, session.SelectAnswer(req.QuestionID, *req.OptionIndex), nil) })

		case ws.ActionNavigate:
			var req ws.NavigateRequest
			if !decode(peer, env.Action, data, &req) {
				continue
			}
			loop.Post(func() {
				index, err := session.Navigate(req.Index)
				reply(peer, env.Action, err, &index)
			})

		case ws.ActionSubmit:
			loop.Post(func() { reply(peer, env.Action, session.Submit(), nil) })

		case ws.ActionReturnToFullscreen:
			loop.Post(session.ReturnToFullscreen)

		case ws.ActionEvent:
			var req ws.EventRequest
			if !decode(peer, env.Action, data, &req) {
				continue
			}
			peer.Dispatch(*req.Event)

		case ws.ActionFullscreenResult:
			var req ws.FullscreenResultRequest
			if !decode(peer, env.Action, data, &req) {
				continue
			}
			if !peer.Resolve(req.CommandID, req.OK, req.Error) {
				log.Debug().Str("command_id", req.CommandID).Msg("Late fullscreen result ignored")
			}

		case ws.ActionPing:
			peer.Send(ws.PongResponse{Event: ws.EventPong})
		}
	}
}

func decode(peer *ws.Peer, action ws.Action, data []byte, dst interface{}) bool {
	if fields := validator.Decode(data, dst); fields != nil {
		peer.SendError(action, response.ErrInvalidPayload, errInvalidMessage, fields)
		return false
	}
	return true
}

func reply(peer *ws.Peer, action ws.Action, err error, index *int) {
	if err != nil {
		peer.SendError(action, response.ErrCommandRejected, err, nil)
		return
	}
	peer.Send(ws.AckResponse{Event: ws.EventAck, Action: action, Index: index})
}
