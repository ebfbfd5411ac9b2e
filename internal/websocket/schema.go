package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionLoad               Action = "load"
	ActionConfirmStart       Action = "confirm_start"
	ActionSelectAnswer       Action = "select_answer"
	ActionNavigate           Action = "navigate"
	ActionSubmit             Action = "submit"
	ActionReturnToFullscreen Action = "return_to_fullscreen"
	ActionEvent              Action = "event"
	ActionFullscreenResult   Action = "fullscreen_result"
	ActionPing               Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" validate:"required,oneof=load confirm_start select_answer navigate submit return_to_fullscreen event fullscreen_result ping"`
}

// ConfirmStartRequest is sent once the student ticked the rules checkbox.
type ConfirmStartRequest struct {
	Action       Action `json:"action"`
	Acknowledged bool   `json:"acknowledged"`
}

// SelectAnswerRequest records one choice.
type SelectAnswerRequest struct {
	Action      Action `json:"action"`
	QuestionID  int    `json:"question_id" validate:"required,gt=0"`
	OptionIndex *int   `json:"option_index" validate:"required,gte=0"`
}

// NavigateRequest moves to another question.
type NavigateRequest struct {
	Action Action `json:"action"`
	Index  int    `json:"index"`
}

// EventRequest forwards one browser event.
type EventRequest struct {
	Action Action         `json:"action"`
	Event  *proctor.Event `json:"event" validate:"required"`
}

// FullscreenResultRequest answers a FullscreenCommand.
type FullscreenResultRequest struct {
	Action    Action `json:"action"`
	CommandID string `json:"command_id" validate:"required,uuid"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventNotice     Event = "notice"
	EventFullscreen Event = "fullscreen"
	EventAck        Event = "ack"
	EventPong       Event = "pong"
)

// NoticeResponse carries one session notice.
type NoticeResponse struct {
	Event  Event          `json:"event"`
	Notice proctor.Notice `json:"notice"`
}

// FullscreenCommand asks the shim to enter or leave fullscreen. Both must
// be answered with a fullscreen_result carrying the same command_id.
type FullscreenCommand struct {
	Event     Event  `json:"event"`
	CommandID string `json:"command_id"`
	Enter     bool   `json:"enter"`
}

// AckResponse confirms a command the session accepted.
type AckResponse struct {
	Event  Event  `json:"event"`
	Action Action `json:"action"`
	Index  *int   `json:"index,omitempty"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Action Action            `json:"action,omitempty"`
	Code   response.ErrCode  `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
