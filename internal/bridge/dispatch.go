package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/luamq/internal/engine"
	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/transport"
	"github.com/danmuck/luamq/internal/value"
)

// Activation reports one receive/reply cycle.
type Activation struct {
	// Received is false for an empty activation or a receive failure.
	Received bool
	Status   protocol.Status
	Function string
	// Results is the number of values returned on StatusOK.
	Results  int
	Duration time.Duration
	// TransportErr is the errno of a receive or send failure, zero if none.
	TransportErr int
	Err          error
}

// Replied reports whether a reply went out.
func (a Activation) Replied() bool {
	return a.Received && a.TransportErr == 0
}

// DispatchOnce runs one activation: await a message, decode the call,
// resolve and invoke it, send the reply. Protocol failures become reply
// statuses; transport failures are recorded in LastError and end the
// activation with nothing sent. The returned error is only ErrClosed or
// ErrDispatchBusy.
func (h *Handle) DispatchOnce() (Activation, error) {
	if !h.busy.CompareAndSwap(false, true) {
		return Activation{}, ErrDispatchBusy
	}
	defer h.busy.Store(false)

	ep, err := h.endpoint()
	if err != nil {
		return Activation{}, err
	}

	start := time.Now()
	in := ep.Receive()
	switch in.Kind {
	case transport.Received:
	case transport.Empty:
		return Activation{Duration: time.Since(start)}, nil
	default:
		h.recordTransportError(in.Code)
		h.log.Warn().Err(in.Err).Int("errno", in.Code).Msg("receive failed")
		return Activation{TransportErr: in.Code, Err: in.Err, Duration: time.Since(start)}, nil
	}

	act := Activation{Received: true}
	status, payload := h.handle(in.Data, &act)
	act.Status = status

	if err := ep.SendReply(string(status), payload); err != nil {
		code := transport.ErrnoOf(err)
		h.recordTransportError(code)
		act.TransportErr = code
		act.Err = err
		h.log.Warn().Err(err).Int("errno", code).Str("status", string(status)).Msg("send failed")
	}
	act.Duration = time.Since(start)
	h.log.Debug().
		Str("function", act.Function).
		Str("status", string(status)).
		Int("results", act.Results).
		Dur("duration", act.Duration).
		Msg("dispatch")
	return act, nil
}

// handle turns one request into a reply status and payload. It never fails:
// every outcome is encoded as one of the three statuses.
func (h *Handle) handle(data []byte, act *Activation) (protocol.Status, []byte) {
	call, err := h.codec.DecodeCall(data)
	if err != nil {
		return h.runtimeError(fmt.Sprintf("malformed call envelope: %v", err), false)
	}
	act.Function = call.Function

	level := h.eng.Top()
	results, found, err := h.invoke(call, level)
	if !found {
		payload, encErr := h.codec.EncodeWireText(call.Function)
		if encErr != nil {
			return h.runtimeError(fmt.Sprintf("encode not-found reply: %v", encErr), false)
		}
		return protocol.StatusNotFound, payload
	}
	if err != nil {
		var callErr *engine.CallError
		if errors.As(err, &callErr) {
			return h.runtimeError(callErr.Message, true)
		}
		return h.runtimeError(err.Error(), false)
	}

	payload, err := h.codec.EncodeResults(results)
	if err != nil {
		return h.runtimeError(fmt.Sprintf("encode results: %v", err), false)
	}
	act.Results = len(results)
	return protocol.StatusOK, payload
}

// invoke resolves and calls the function. The engine stack is back at level
// on every return path, including a recovered panic.
func (h *Handle) invoke(call protocol.Call, level int) (results []value.Value, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = true
			results = nil
			err = fmt.Errorf("engine panic: %v", r)
			h.log.Error().Str("function", call.Function).Interface("panic", r).Msg("engine panic recovered")
			h.restore(level)
		}
	}()

	if !h.eng.PushGlobal(call.Function) {
		h.eng.SetTop(level)
		return nil, false, nil
	}
	for _, arg := range call.Args {
		h.eng.Push(arg)
	}
	if _, err := h.eng.Call(len(call.Args)); err != nil {
		h.eng.SetTop(level)
		return nil, true, err
	}
	results, err = engine.Results(h.eng, level)
	if err != nil {
		return nil, true, err
	}
	return results, true, nil
}

func (h *Handle) restore(level int) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("stack restore failed")
		}
	}()
	if h.eng.Top() > level {
		h.eng.SetTop(level)
	}
}

// runtimeError builds a RUNTIME_ERROR reply. Engine messages are native
// text and go through the charset; messages built here are already UTF-8.
func (h *Handle) runtimeError(msg string, native bool) (protocol.Status, []byte) {
	var (
		payload []byte
		err     error
	)
	if native {
		payload, err = h.codec.EncodeText(msg)
	} else {
		payload, err = h.codec.EncodeWireText(msg)
	}
	if err != nil {
		payload, _ = h.codec.EncodeWireText("unencodable error message")
	}
	return protocol.StatusRuntimeError, payload
}
