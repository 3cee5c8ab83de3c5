// Package faketransport is an in-memory transport.Endpoint for dispatcher
// tests. It enforces REP alternation: a Receive that returned a message must
// be answered before the next Receive.
package faketransport

import (
	"errors"
	"sync"

	"github.com/danmuck/luamq/internal/transport"
)

var ErrOutOfOrder = errors.New("faketransport: receive before reply")

// Reply is one captured two-frame reply.
type Reply struct {
	Status  string
	Payload []byte
}

// Endpoint serves queued inbound results and records replies.
type Endpoint struct {
	mu       sync.Mutex
	inbound  []transport.Inbound
	replies  []Reply
	events   []string
	pending  bool
	closed   bool
	closeErr error
	sendErr  error

	// Address and Options are what the Binder was called with.
	Address string
	Options transport.Options

	// OnReceive runs inside Receive before a result is returned.
	OnReceive func()
}

var _ transport.Endpoint = (*Endpoint)(nil)

func New() *Endpoint {
	return &Endpoint{}
}

// Binder returns a transport.Binder that hands out e.
func (e *Endpoint) Binder() transport.Binder {
	return func(address string, opts transport.Options) (transport.Endpoint, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.Address = address
		e.Options = opts
		e.events = append(e.events, "bind")
		return e, nil
	}
}

// FailingBinder returns a binder that always fails with err.
func FailingBinder(err error) transport.Binder {
	return func(string, transport.Options) (transport.Endpoint, error) {
		return nil, err
	}
}

// Queue appends inbound results served in order. An exhausted queue yields
// transport.NoMessage.
func (e *Endpoint) Queue(in ...transport.Inbound) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound = append(e.inbound, in...)
}

func (e *Endpoint) QueueMessage(data []byte) {
	e.Queue(transport.Message(data))
}

// FailSends makes every later SendReply fail with err; nil clears it.
func (e *Endpoint) FailSends(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = err
}

// FailClose makes Close return err.
func (e *Endpoint) FailClose(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeErr = err
}

func (e *Endpoint) Receive() transport.Inbound {
	if hook := e.OnReceive; hook != nil {
		hook()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "receive")
	if e.closed {
		return transport.Failure(transport.ErrClosed)
	}
	if e.pending {
		return transport.Failure(ErrOutOfOrder)
	}
	if len(e.inbound) == 0 {
		return transport.NoMessage()
	}
	in := e.inbound[0]
	e.inbound = e.inbound[1:]
	if in.Kind == transport.Received {
		e.pending = true
	}
	return in
}

func (e *Endpoint) SendReply(status string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "send")
	if e.closed {
		return &transport.SendError{Code: transport.CodeUnknown, Err: transport.ErrClosed}
	}
	if e.sendErr != nil {
		e.pending = false
		return &transport.SendError{Code: transport.ErrnoOf(e.sendErr), Err: e.sendErr}
	}
	e.pending = false
	e.replies = append(e.replies, Reply{Status: status, Payload: append([]byte(nil), payload...)})
	return nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "close")
	e.closed = true
	return e.closeErr
}

// Replies returns a copy of the captured replies.
func (e *Endpoint) Replies() []Reply {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reply(nil), e.replies...)
}

// Events lists bind/receive/send/close calls in order.
func (e *Endpoint) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
