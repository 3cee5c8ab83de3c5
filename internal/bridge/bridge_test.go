package bridge

import (
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/danmuck/luamq/internal/engine"
	"github.com/danmuck/luamq/internal/engine/luavm"
	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/protocol/charset"
	"github.com/danmuck/luamq/internal/testutil/faketransport"
	"github.com/danmuck/luamq/internal/testutil/testlog"
	"github.com/danmuck/luamq/internal/transport"
	"github.com/danmuck/luamq/internal/value"
)

const script = `
function f(a, b) return a + b, a * b end
function none() end
function fail() error("bad input", 0) end
function echo(...) return ... end
function list() return {10, 20} end
`

func newEngine(t *testing.T) *luavm.State {
	t.Helper()
	s, err := luavm.New(luavm.Options{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.LoadString(script); err != nil {
		t.Fatalf("load script: %v", err)
	}
	return s
}

func newHandle(t *testing.T, eng engine.Engine, opts ...Option) (*Handle, *faketransport.Endpoint) {
	t.Helper()
	ep := faketransport.New()
	opts = append([]Option{WithBinder(ep.Binder())}, opts...)
	h, err := Bind("tcp://127.0.0.1:5555", eng, opts...)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return h, ep
}

func envelope(t *testing.T, name string, args ...value.Value) []byte {
	t.Helper()
	data, err := protocol.NewCodec(protocol.DefaultOptions()).EncodeCall(name, args...)
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	return data
}

func onlyReply(t *testing.T, ep *faketransport.Endpoint) protocol.Reply {
	t.Helper()
	replies := ep.Replies()
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replies))
	}
	reply, err := protocol.NewCodec(protocol.DefaultOptions()).DecodeReply(replies[0].Status, replies[0].Payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestDispatchOKReturnsResultsInOrder(t *testing.T) {
	testlog.Start(t)
	eng := newEngine(t)
	h, ep := newHandle(t, eng)
	level := eng.Top()

	ep.QueueMessage(envelope(t, "f", value.Number(1), value.Number(2)))
	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !act.Received || act.Status != protocol.StatusOK || act.Function != "f" || act.Results != 2 {
		t.Fatalf("unexpected activation: %+v", act)
	}
	if !act.Replied() {
		t.Fatalf("expected a reply")
	}
	reply := onlyReply(t, ep)
	want := []value.Value{value.Number(3), value.Number(2)}
	if len(reply.Results) != len(want) {
		t.Fatalf("unexpected results: %#v", reply.Results)
	}
	for i := range want {
		if !value.Equal(reply.Results[i], want[i]) {
			t.Fatalf("result %d: want %#v got %#v", i, want[i], reply.Results[i])
		}
	}
	if eng.Top() != level {
		t.Fatalf("stack not restored: %d != %d", eng.Top(), level)
	}
}

func TestDispatchNoResultsIsEmptyArray(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.QueueMessage(envelope(t, "none"))
	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply := onlyReply(t, ep)
	if reply.Status != protocol.StatusOK || len(reply.Results) != 0 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if string(ep.Replies()[0].Payload) != "\x90" {
		t.Fatalf("expected empty fixarray payload, got %x", ep.Replies()[0].Payload)
	}
}

func TestDispatchListResultGoesOutAsIndexedMap(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.QueueMessage(envelope(t, "list"))
	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply := onlyReply(t, ep)
	want := value.Map{
		{Key: value.Number(1), Val: value.Number(10)},
		{Key: value.Number(2), Val: value.Number(20)},
	}
	if len(reply.Results) != 1 || !value.Equal(reply.Results[0], want) {
		t.Fatalf("unexpected list encoding: %#v", reply.Results)
	}
}

func TestDispatchNotFound(t *testing.T) {
	testlog.Start(t)
	eng := newEngine(t)
	h, ep := newHandle(t, eng)
	level := eng.Top()

	ep.QueueMessage(envelope(t, "g", value.Number(1)))
	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.Status != protocol.StatusNotFound {
		t.Fatalf("unexpected status: %s", act.Status)
	}
	reply := onlyReply(t, ep)
	if reply.Status != protocol.StatusNotFound || reply.Text != "g" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if eng.Top() != level {
		t.Fatalf("stack not restored after not found")
	}
}

func TestDispatchRuntimeError(t *testing.T) {
	testlog.Start(t)
	eng := newEngine(t)
	h, ep := newHandle(t, eng)
	level := eng.Top()

	ep.QueueMessage(envelope(t, "fail"))
	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply := onlyReply(t, ep)
	if reply.Status != protocol.StatusRuntimeError || reply.Text != "bad input" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if eng.Top() != level {
		t.Fatalf("stack not restored after error")
	}
}

func TestDispatchMalformedEnvelope(t *testing.T) {
	testlog.Start(t)
	cases := map[string][]byte{
		"not array":    {0xc0},
		"empty array":  {0x90},
		"numeric name": {0x91, 0x01},
		"truncated":    {0x92, 0xa1},
	}
	for name, data := range cases {
		h, ep := newHandle(t, newEngine(t))
		ep.QueueMessage(data)
		act, err := h.DispatchOnce()
		if err != nil {
			t.Fatalf("%s: dispatch: %v", name, err)
		}
		if act.Status != protocol.StatusRuntimeError {
			t.Fatalf("%s: unexpected status %s", name, act.Status)
		}
		reply := onlyReply(t, ep)
		if !strings.Contains(reply.Text, "malformed call envelope") {
			t.Fatalf("%s: unexpected message %q", name, reply.Text)
		}
	}
}

func TestDispatchEmptyActivation(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.Received || act.Replied() {
		t.Fatalf("empty activation should not reply: %+v", act)
	}
	if len(ep.Replies()) != 0 {
		t.Fatalf("unexpected replies: %+v", ep.Replies())
	}
	if h.LastError() != 0 {
		t.Fatalf("empty activation should not set last error")
	}
}

func TestReceiveFailureRecordsLastError(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.Queue(transport.Failure(syscall.EINTR))
	ep.QueueMessage(envelope(t, "none"))

	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.TransportErr != int(syscall.EINTR) || act.Received {
		t.Fatalf("unexpected activation: %+v", act)
	}
	if len(ep.Replies()) != 0 {
		t.Fatalf("no reply expected after receive failure")
	}
	if h.LastError() != int(syscall.EINTR) {
		t.Fatalf("unexpected last error: %d", h.LastError())
	}

	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if h.LastError() != int(syscall.EINTR) {
		t.Fatalf("last error must survive a successful activation, got %d", h.LastError())
	}
}

func TestSendFailureRecordsLastError(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.FailSends(syscall.EPIPE)
	ep.QueueMessage(envelope(t, "none"))

	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.Replied() || act.TransportErr != int(syscall.EPIPE) {
		t.Fatalf("unexpected activation: %+v", act)
	}
	if h.LastError() != int(syscall.EPIPE) {
		t.Fatalf("unexpected last error: %d", h.LastError())
	}
}

func TestReentrantDispatchIsRefused(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.QueueMessage(envelope(t, "none"))

	var nestedDispatch, nestedDestroy error
	calls := 0
	ep.OnReceive = func() {
		calls++
		if calls > 1 {
			return
		}
		_, nestedDispatch = h.DispatchOnce()
		nestedDestroy = h.Destroy()
	}

	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("outer dispatch: %v", err)
	}
	if !errors.Is(nestedDispatch, ErrDispatchBusy) {
		t.Fatalf("expected ErrDispatchBusy, got %v", nestedDispatch)
	}
	if !errors.Is(nestedDestroy, ErrDispatchBusy) {
		t.Fatalf("expected destroy to be refused, got %v", nestedDestroy)
	}
	if calls != 1 {
		t.Fatalf("nested dispatch touched the socket: %d receives", calls)
	}
	if len(ep.Replies()) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(ep.Replies()))
	}
	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("guard not released: %v", err)
	}
}

func TestDestroyClosesOnceAndRefusesFurtherUse(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	if h.State() != StateBound {
		t.Fatalf("expected bound, got %s", h.State())
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if !ep.Closed() || h.State() != StateClosed {
		t.Fatalf("endpoint not closed")
	}
	if err := h.Destroy(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.DispatchOnce(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from dispatch, got %v", err)
	}
	events := ep.Events()
	closes := 0
	for _, e := range events {
		if e == "close" {
			closes++
		}
	}
	if closes != 1 || events[len(events)-1] != "close" {
		t.Fatalf("unexpected event log: %v", events)
	}
}

func TestDestroyCloseFailureRecordsLastError(t *testing.T) {
	testlog.Start(t)
	h, ep := newHandle(t, newEngine(t))
	ep.FailClose(syscall.EFAULT)
	if err := h.Destroy(); !errors.Is(err, syscall.EFAULT) {
		t.Fatalf("expected close error, got %v", err)
	}
	if h.LastError() != int(syscall.EFAULT) {
		t.Fatalf("unexpected last error: %d", h.LastError())
	}
	if h.State() != StateClosed {
		t.Fatalf("handle should be closed even when close fails")
	}
}

func TestBindValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := Bind("tcp://x", nil); !errors.Is(err, ErrNilEngine) {
		t.Fatalf("expected ErrNilEngine, got %v", err)
	}
	eng := newEngine(t)
	if _, err := Bind(" ", eng); !errors.Is(err, transport.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	boom := errors.New("address in use")
	if _, err := Bind("tcp://x", eng, WithBinder(faketransport.FailingBinder(boom))); !errors.Is(err, boom) {
		t.Fatalf("expected binder error, got %v", err)
	}
}

func TestBindPassesTransportOptions(t *testing.T) {
	testlog.Start(t)
	opts := transport.Options{RecvTimeout: 7, Linger: 3}
	h, ep := newHandle(t, newEngine(t), WithTransportOptions(opts))
	if ep.Options != opts || ep.Address != h.Address() {
		t.Fatalf("binder saw %q %+v", ep.Address, ep.Options)
	}
}

func TestLegacyCharsetTextRoundTrip(t *testing.T) {
	testlog.Start(t)
	cs := charset.MustLookup("windows-1251")
	eng := newEngine(t)
	if err := eng.LoadString("function native() error(\"\\207\", 0) end"); err != nil {
		t.Fatalf("load: %v", err)
	}
	opts := protocol.DefaultOptions()
	opts.Charset = cs
	h, ep := newHandle(t, eng, WithCodecOptions(opts))

	ep.QueueMessage(envelope(t, "echo", value.String("Привет")))
	if _, err := h.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply := onlyReply(t, ep)
	if len(reply.Results) != 1 || !value.Equal(reply.Results[0], value.String("Привет")) {
		t.Fatalf("unexpected echo: %#v", reply.Results)
	}

	ep2 := faketransport.New()
	h2, err := Bind("tcp://x", eng, WithBinder(ep2.Binder()), WithCodecOptions(opts))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	ep2.QueueMessage(envelope(t, "native"))
	if _, err := h2.DispatchOnce(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	reply = onlyReply(t, ep2)
	// Lua "\207" is byte 0xCF, which windows-1251 maps to П.
	if reply.Status != protocol.StatusRuntimeError || reply.Text != "П" {
		t.Fatalf("unexpected native error text: %+v", reply)
	}
}

type panicEngine struct {
	stack []value.Value
}

func (p *panicEngine) Top() int           { return len(p.stack) }
func (p *panicEngine) SetTop(n int)       { p.stack = p.stack[:n] }
func (p *panicEngine) Push(v value.Value) { p.stack = append(p.stack, v) }
func (p *panicEngine) Get(idx int) (value.Value, error) {
	return p.stack[idx-1], nil
}
func (p *panicEngine) PushGlobal(name string) bool {
	p.stack = append(p.stack, value.Opaque{TypeName: "function"})
	return true
}
func (p *panicEngine) Call(nargs int) (int, error) {
	panic("engine state corrupted")
}

func TestEnginePanicBecomesRuntimeError(t *testing.T) {
	testlog.Start(t)
	eng := &panicEngine{}
	h, ep := newHandle(t, eng)
	ep.QueueMessage(envelope(t, "anything", value.Number(1)))
	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.Status != protocol.StatusRuntimeError {
		t.Fatalf("unexpected status: %s", act.Status)
	}
	reply := onlyReply(t, ep)
	if !strings.Contains(reply.Text, "engine state corrupted") {
		t.Fatalf("unexpected message: %q", reply.Text)
	}
	if eng.Top() != 0 {
		t.Fatalf("stack not restored after panic: %d", eng.Top())
	}
}

func TestOversizedResultBecomesRuntimeError(t *testing.T) {
	testlog.Start(t)
	eng, err := luavm.New(luavm.Options{Limits: luavm.Limits{MaxNodes: 5000}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	if err := eng.LoadString(`function doubled(n) local t = {} for i = 1, n do t = {t, t} end return t end`); err != nil {
		t.Fatalf("load: %v", err)
	}
	h, ep := newHandle(t, eng)
	ep.QueueMessage(envelope(t, "doubled", value.Number(40)))

	act, err := h.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if act.Status != protocol.StatusRuntimeError {
		t.Fatalf("unexpected status: %s", act.Status)
	}
	reply := onlyReply(t, ep)
	if !strings.Contains(reply.Text, "too large") {
		t.Fatalf("unexpected message: %q", reply.Text)
	}
	if eng.Top() != 0 {
		t.Fatalf("stack not restored: %d", eng.Top())
	}
}
