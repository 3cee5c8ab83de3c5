package zmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/luamq/internal/transport"
	zmq4 "github.com/pebbe/zmq4"
)

var ErrMalformedReply = errors.New("zmq: malformed reply")

// pollSlice bounds each poll so a cancelled context is noticed promptly.
const pollSlice = 50 * time.Millisecond

// Requester is the REQ side of the bridge. One request is in flight at a
// time; a request abandoned by its context resets the socket so the next
// request starts from a clean REQ state.
type Requester struct {
	mu     sync.Mutex
	ctx    *zmq4.Context
	sock   *zmq4.Socket
	addr   string
	opts   transport.Options
	closed bool
}

// Dial connects a REQ socket to address.
func Dial(address string, opts transport.Options) (*Requester, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, transport.ErrInvalidAddress
	}
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("zmq: new context: %w", wrapErr(err))
	}
	r := &Requester{ctx: ctx, addr: address, opts: opts}
	if err := r.connect(); err != nil {
		_ = ctx.Term()
		return nil, err
	}
	return r, nil
}

func (r *Requester) connect() error {
	sock, err := r.ctx.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("zmq: new socket: %w", wrapErr(err))
	}
	if err := sock.SetLinger(r.opts.Linger); err != nil {
		_ = sock.Close()
		return fmt.Errorf("zmq: set linger: %w", wrapErr(err))
	}
	if err := sock.Connect(r.addr); err != nil {
		_ = sock.Close()
		return fmt.Errorf("zmq: connect %s: %w", r.addr, wrapErr(err))
	}
	r.sock = sock
	return nil
}

// reset replaces the socket. When reconnecting fails the requester is left
// without a socket and the next Request tries to connect again.
func (r *Requester) reset() error {
	if r.sock != nil {
		_ = r.sock.Close()
		r.sock = nil
	}
	return r.connect()
}

// Request sends one envelope and waits for the two-frame reply. When ctx
// carries no deadline, opts.RecvTimeout (if set) bounds the wait.
func (r *Requester) Request(ctx context.Context, envelope []byte) (string, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", nil, transport.ErrClosed
	}
	if r.sock == nil {
		if err := r.connect(); err != nil {
			return "", nil, err
		}
	}
	if _, ok := ctx.Deadline(); !ok && r.opts.RecvTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RecvTimeout)
		defer cancel()
	}

	if _, err := r.sock.SendBytes(envelope, 0); err != nil {
		return "", nil, &transport.SendError{Code: transport.ErrnoOf(wrapErr(err)), Err: wrapErr(err)}
	}

	poller := zmq4.NewPoller()
	poller.Add(r.sock, zmq4.POLLIN)
	for {
		if err := ctx.Err(); err != nil {
			if rerr := r.reset(); rerr != nil {
				return "", nil, errors.Join(err, rerr)
			}
			return "", nil, err
		}
		polled, err := poller.Poll(pollSlice)
		if err != nil {
			return "", nil, fmt.Errorf("zmq: poll: %w", wrapErr(err))
		}
		if len(polled) > 0 {
			break
		}
	}

	frames, err := r.sock.RecvMessageBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("zmq: receive reply: %w", wrapErr(err))
	}
	if len(frames) != 2 {
		return "", nil, fmt.Errorf("%w: %d frames", ErrMalformedReply, len(frames))
	}
	return string(frames[0]), frames[1], nil
}

func (r *Requester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var sockErr error
	if r.sock != nil {
		sockErr = r.sock.Close()
	}
	return errors.Join(wrapErr(sockErr), wrapErr(r.ctx.Term()))
}
