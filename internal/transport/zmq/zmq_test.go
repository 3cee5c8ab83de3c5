package zmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/luamq/internal/testutil/testlog"
	"github.com/danmuck/luamq/internal/transport"
)

func bindLoopback(t *testing.T, opts transport.Options) *Endpoint {
	t.Helper()
	ep, err := Bind("tcp://127.0.0.1:*", opts)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func TestBindRejectsEmptyAddress(t *testing.T) {
	testlog.Start(t)
	if _, err := Bind("  ", transport.Options{}); !errors.Is(err, transport.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestBindFailureCarriesErrno(t *testing.T) {
	testlog.Start(t)
	_, err := Bind("bogus://nowhere", transport.Options{})
	if err == nil {
		t.Fatalf("expected bind failure")
	}
	if code := transport.ErrnoOf(err); code == 0 || code == transport.CodeUnknown {
		t.Fatalf("expected numeric errno, got %d (%v)", code, err)
	}
}

func TestReceiveTimeoutIsEmpty(t *testing.T) {
	testlog.Start(t)
	ep := bindLoopback(t, transport.Options{RecvTimeout: 20 * time.Millisecond})
	in := ep.Receive()
	if in.Kind != transport.Empty {
		t.Fatalf("expected empty, got %s (%v)", in.Kind, in.Err)
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	testlog.Start(t)
	ep := bindLoopback(t, transport.Options{RecvTimeout: 2 * time.Second})

	req, err := Dial(ep.Address(), transport.Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer req.Close()

	type reply struct {
		status  string
		payload []byte
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		status, payload, err := req.Request(ctx, []byte("ping"))
		done <- reply{status, payload, err}
	}()

	in := ep.Receive()
	if in.Kind != transport.Received || string(in.Data) != "ping" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	if err := ep.SendReply("OK", []byte("pong")); err != nil {
		t.Fatalf("send reply: %v", err)
	}

	got := <-done
	if got.err != nil {
		t.Fatalf("request: %v", got.err)
	}
	if got.status != "OK" || string(got.payload) != "pong" {
		t.Fatalf("unexpected reply: %q %q", got.status, got.payload)
	}
}

func TestRequestHonoursContext(t *testing.T) {
	testlog.Start(t)
	ep := bindLoopback(t, transport.Options{RecvTimeout: 20 * time.Millisecond})
	req, err := Dial(ep.Address(), transport.Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer req.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := req.Request(ctx, []byte("unanswered")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	ep, err := Bind("tcp://127.0.0.1:*", transport.Options{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if in := ep.Receive(); in.Kind != transport.Failed || !errors.Is(in.Err, transport.ErrClosed) {
		t.Fatalf("expected closed failure, got %+v", in)
	}
	if err := ep.SendReply("OK", nil); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRequestAfterFailedReconnect(t *testing.T) {
	testlog.Start(t)
	ep := bindLoopback(t, transport.Options{RecvTimeout: 2 * time.Second})
	req, err := Dial(ep.Address(), transport.Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer req.Close()

	// The abandoned request resets the socket, and reconnecting to a bad
	// address leaves the requester without one.
	req.addr = "bogus://nowhere"
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	_, _, err = req.Request(ctx, []byte("lost"))
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if req.sock != nil {
		t.Fatalf("expected no socket after failed reconnect")
	}
	if in := ep.Receive(); in.Kind != transport.Received {
		t.Fatalf("expected the lost request to arrive, got %+v", in)
	}

	if _, _, err := req.Request(context.Background(), []byte("again")); err == nil {
		t.Fatalf("expected connect error while the address is bad")
	}

	req.addr = ep.Address()
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := req.Request(ctx, []byte("ping"))
		done <- err
	}()
	// The server still owes the lost request a reply before REP reads again.
	if err := ep.SendReply("OK", nil); err != nil {
		t.Fatalf("reply to lost request: %v", err)
	}
	if in := ep.Receive(); in.Kind != transport.Received || string(in.Data) != "ping" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	if err := ep.SendReply("OK", []byte("pong")); err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("request after reconnect: %v", err)
	}
}
