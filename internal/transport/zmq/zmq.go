// Package zmq binds the transport contract to a ZeroMQ REP socket.
package zmq

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/luamq/internal/transport"
	zmq4 "github.com/pebbe/zmq4"
)

// Endpoint is a ZeroMQ context plus one bound REP socket.
type Endpoint struct {
	mu     sync.Mutex
	ctx    *zmq4.Context
	sock   *zmq4.Socket
	addr   string
	closed bool
}

var _ transport.Endpoint = (*Endpoint)(nil)

// Bind creates a context and a REP socket bound to address.
func Bind(address string, opts transport.Options) (*Endpoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, transport.ErrInvalidAddress
	}
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq: new context: %w", wrapErr(err))
	}
	sock, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		_ = ctx.Term()
		return nil, fmt.Errorf("zmq: new socket: %w", wrapErr(err))
	}
	if err := configure(sock, opts); err != nil {
		_ = sock.Close()
		_ = ctx.Term()
		return nil, err
	}
	if err := sock.Bind(address); err != nil {
		_ = sock.Close()
		_ = ctx.Term()
		return nil, fmt.Errorf("zmq: bind %s: %w", address, wrapErr(err))
	}
	if bound, err := sock.GetLastEndpoint(); err == nil && bound != "" {
		address = bound
	}
	return &Endpoint{ctx: ctx, sock: sock, addr: address}, nil
}

// Binder adapts Bind to transport.Binder.
func Binder(address string, opts transport.Options) (transport.Endpoint, error) {
	ep, err := Bind(address, opts)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func configure(sock *zmq4.Socket, opts transport.Options) error {
	if err := sock.SetLinger(opts.Linger); err != nil {
		return fmt.Errorf("zmq: set linger: %w", wrapErr(err))
	}
	timeout := time.Duration(-1)
	if opts.RecvTimeout > 0 {
		timeout = opts.RecvTimeout
	}
	if err := sock.SetRcvtimeo(timeout); err != nil {
		return fmt.Errorf("zmq: set rcvtimeo: %w", wrapErr(err))
	}
	return nil
}

// Address returns the bound address, with a wildcard port resolved.
func (e *Endpoint) Address() string {
	return e.addr
}

// Receive reads one request. Extra frames of a multipart request are drained
// so the REP state machine stays ready to reply.
func (e *Endpoint) Receive() transport.Inbound {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return transport.Failure(transport.ErrClosed)
	}
	data, err := e.sock.RecvBytes(0)
	if err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			return transport.NoMessage()
		}
		return transport.Failure(wrapErr(err))
	}
	for {
		more, err := e.sock.GetRcvmore()
		if err != nil {
			return transport.Failure(wrapErr(err))
		}
		if !more {
			break
		}
		if _, err := e.sock.RecvBytes(0); err != nil {
			return transport.Failure(wrapErr(err))
		}
	}
	return transport.Message(data)
}

func (e *Endpoint) SendReply(status string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &transport.SendError{Code: transport.CodeUnknown, Err: transport.ErrClosed}
	}
	if _, err := e.sock.Send(status, zmq4.SNDMORE); err != nil {
		return &transport.SendError{Code: transport.ErrnoOf(wrapErr(err)), Err: wrapErr(err)}
	}
	if _, err := e.sock.SendBytes(payload, 0); err != nil {
		return &transport.SendError{Code: transport.ErrnoOf(wrapErr(err)), Err: wrapErr(err)}
	}
	return nil
}

// Close closes the socket before terminating the context. Safe to call
// more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	sockErr := e.sock.Close()
	ctxErr := e.ctx.Term()
	return errors.Join(wrapErr(sockErr), wrapErr(ctxErr))
}

// Error carries a ZeroMQ errno.
type Error struct {
	Code zmq4.Errno
	err  error
}

func (e *Error) Error() string {
	return "zmq: " + e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Errno() int {
	return int(e.Code)
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	code := zmq4.AsErrno(err)
	if code == 0 {
		return err
	}
	return &Error{Code: code, err: err}
}
