package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

var (
	ErrPeerClosed        = errors.New("websocket peer closed")
	ErrFullscreenDenied  = errors.New("fullscreen denied by browser")
	ErrFullscreenTimeout = errors.New("fullscreen request unanswered")
	ErrSlowConsumer      = errors.New("websocket send buffer full")
)

const sendBuffer = 256

// Peer is the agent's side of one shim connection. It is the session's
// event source, display and notifier at once: events arrive through
// Dispatch, fullscreen requests and notices leave through the write pump.
type Peer struct {
	conn     *websocket.Conn
	log      zerolog.Logger
	deadline time.Duration

	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	subs    map[int]func(proctor.Event)
	nextSub int
	pending map[string]chan error
}

// NewPeer wraps conn. fullscreenDeadline bounds how long EnterFullscreen
// waits for the shim's answer. Start the write pump with WritePump.
func NewPeer(conn *websocket.Conn, fullscreenDeadline time.Duration, log zerolog.Logger) *Peer {
	return &Peer{
		conn:     conn,
		log:      log.With().Str("component", "ws_peer").Logger(),
		deadline: fullscreenDeadline,
		send:     make(chan interface{}, sendBuffer),
		done:     make(chan struct{}),
		subs:     make(map[int]func(proctor.Event)),
		pending:  make(map[string]chan error),
	}
}

// WritePump writes queued messages until the peer is closed. Call in a
// goroutine.
func (p *Peer) WritePump() {
	for {
		select {
		case <-p.done:
			return
		case v := <-p.send:
			if err := WriteTyped(p.conn, v); err != nil {
				p.log.Debug().Err(err).Msg("Write failed")
				p.Close()
				return
			}
		}
	}
}

// Send queues v for the write pump without blocking. A client too slow to
// keep up is disconnected.
func (p *Peer) Send(v interface{}) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.send <- v:
		return nil
	default:
		p.log.Warn().Msg("Send buffer full, dropping client")
		p.Close()
		return ErrSlowConsumer
	}
}

// SendError reports a rejected command to the shim.
func (p *Peer) SendError(action Action, code response.ErrCode, err error, fields map[string]string) {
	p.Send(ErrorResponse{Event: EventError, Action: action, Code: code, Error: err.Error(), Fields: fields})
}

// Notify implements proctor.Notifier.
func (p *Peer) Notify(n proctor.Notice) {
	p.Send(NoticeResponse{Event: EventNotice, Notice: n})
}

// Subscribe implements proctor.EventSource.
func (p *Peer) Subscribe(fn func(proctor.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Dispatch hands a browser event to every subscriber.
func (p *Peer) Dispatch(e proctor.Event) {
	p.mu.Lock()
	fns := make([]func(proctor.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// EnterFullscreen implements proctor.Display. It blocks until the shim
// answers, the deadline passes, ctx is done or the peer closes.
func (p *Peer) EnterFullscreen(ctx context.Context) error {
	return p.fullscreen(ctx, true)
}

// ExitFullscreen implements proctor.Display. It returns once the shim
// confirms the browser has left fullscreen.
func (p *Peer) ExitFullscreen(ctx context.Context) error {
	return p.fullscreen(ctx, false)
}

func (p *Peer) fullscreen(ctx context.Context, enter bool) error {
	id := uuid.NewString()
	answer := make(chan error, 1)

	p.mu.Lock()
	p.pending[id] = answer
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.Send(FullscreenCommand{Event: EventFullscreen, CommandID: id, Enter: enter}); err != nil {
		return err
	}

	timer := time.NewTimer(p.deadline)
	defer timer.Stop()

	select {
	case err := <-answer:
		return err
	case <-timer.C:
		return ErrFullscreenTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPeerClosed
	}
}

// Resolve delivers the shim's answer to a pending fullscreen command. It
// reports whether the command was still pending.
func (p *Peer) Resolve(commandID string, ok bool, reason string) bool {
	p.mu.Lock()
	answer, found := p.pending[commandID]
	delete(p.pending, commandID)
	p.mu.Unlock()
	if !found {
		return false
	}

	var err error
	if !ok {
		err = ErrFullscreenDenied
		if reason != "" {
			err = fmt.Errorf("%w: %s", ErrFullscreenDenied, reason)
		}
	}
	answer <- err
	return true
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Close stops the write pump and closes the connection.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}
