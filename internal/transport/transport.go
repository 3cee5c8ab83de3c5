// Package transport owns the socket contract the dispatcher consumes.
//
// Ownership boundary:
// - explicit receive results (message / empty / failure code)
// - two-frame reply send
// - endpoint (context + socket) lifecycle
package transport

import (
	"errors"
	"syscall"
	"time"
)

var (
	ErrClosed         = errors.New("transport: endpoint closed")
	ErrInvalidAddress = errors.New("transport: invalid address")
)

// CodeUnknown marks a failure that carried no numeric errno.
const CodeUnknown = -1

// InboundKind classifies one receive attempt.
type InboundKind uint8

const (
	Received InboundKind = iota + 1
	Empty
	Failed
)

func (k InboundKind) String() string {
	switch k {
	case Received:
		return "received"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Inbound is the result of one receive attempt.
type Inbound struct {
	Kind InboundKind
	Data []byte
	// Code is the transport errno when Kind is Failed.
	Code int
	Err  error
}

func Message(data []byte) Inbound {
	return Inbound{Kind: Received, Data: data}
}

func NoMessage() Inbound {
	return Inbound{Kind: Empty}
}

func Failure(err error) Inbound {
	return Inbound{Kind: Failed, Code: ErrnoOf(err), Err: err}
}

// Socket is one bound reply socket. Every Received must be answered by
// exactly one SendReply before the next Receive.
type Socket interface {
	Receive() Inbound
	// SendReply sends status with the more-frames flag, then payload as the
	// final frame.
	SendReply(status string, payload []byte) error
}

// Endpoint is a bound socket together with the context that owns it.
type Endpoint interface {
	Socket
	// Close closes the socket, then the context.
	Close() error
}

// Options tunes an endpoint at bind time.
type Options struct {
	// RecvTimeout bounds each Receive. Zero blocks until a message arrives.
	RecvTimeout time.Duration
	// Linger bounds how long unsent replies are kept on close.
	Linger time.Duration
}

// Binder creates an Endpoint bound to address.
type Binder func(address string, opts Options) (Endpoint, error)

// SendError is a failure raised while sending a reply.
type SendError struct {
	Code int
	Err  error
}

func (e *SendError) Error() string {
	return "transport: send failed: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Errno is implemented by transport errors that carry a numeric code.
type Errno interface {
	Errno() int
}

// ErrnoOf extracts a numeric code from err, or CodeUnknown.
func ErrnoOf(err error) int {
	if err == nil {
		return 0
	}
	var send *SendError
	if errors.As(err, &send) {
		return send.Code
	}
	var coded Errno
	if errors.As(err, &coded) {
		return coded.Errno()
	}
	var sys syscall.Errno
	if errors.As(err, &sys) {
		return int(sys)
	}
	return CodeUnknown
}
