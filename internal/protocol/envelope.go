package protocol

import (
	"bytes"
	"fmt"

	"github.com/danmuck/luamq/internal/value"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Call is a decoded request: global function name plus positional arguments.
type Call struct {
	Function string
	Args     []value.Value
}

// DecodeCall parses one call envelope: [name, arg1, ..., argN].
//
// The function name is kept as received; global names are looked up with
// the raw wire bytes.
func (c *Codec) DecodeCall(data []byte) (Call, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	code, err := dec.PeekCode()
	if err != nil {
		return Call{}, wrapRead(err)
	}
	if !msgpcode.IsFixedArray(code) && code != msgpcode.Array16 && code != msgpcode.Array32 {
		return Call{}, fmt.Errorf("%w: code=%#x", ErrEnvelopeNotArray, code)
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Call{}, wrapRead(err)
	}
	if n <= 0 {
		return Call{}, ErrEmptyEnvelope
	}

	code, err = dec.PeekCode()
	if err != nil {
		return Call{}, wrapRead(err)
	}
	var name string
	switch {
	case msgpcode.IsString(code):
		name, err = dec.DecodeString()
	case msgpcode.IsBin(code):
		var b []byte
		b, err = dec.DecodeBytes()
		name = string(b)
	default:
		return Call{}, fmt.Errorf("%w: code=%#x", ErrFunctionNameNotString, code)
	}
	if err != nil {
		return Call{}, wrapRead(err)
	}

	call := Call{Function: name, Args: make([]value.Value, 0, capHint(n-1))}
	for i := 1; i < n; i++ {
		arg, err := c.decodeValue(dec, 1)
		if err != nil {
			return Call{}, fmt.Errorf("argument %d: %w", i, err)
		}
		call.Args = append(call.Args, arg)
	}
	if r.Len() > 0 {
		return Call{}, ErrTrailingBytes
	}
	return call, nil
}

// EncodeCall builds a call envelope from scripting values. Used by callers
// that already hold value.Value arguments.
func (c *Codec) EncodeCall(function string, args ...value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(args) + 1); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(function); err != nil {
		return nil, err
	}
	for i, arg := range args {
		if err := c.encodeValue(enc, arg, 1); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}
	return buf.Bytes(), nil
}

// Reply is a decoded two-frame reply.
type Reply struct {
	Status Status
	// Results is set for StatusOK.
	Results []value.Value
	// Text is the error message or missing function name otherwise.
	Text string
}

// DecodeReply parses a status frame and its payload frame.
func (c *Codec) DecodeReply(status string, payload []byte) (Reply, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return Reply{}, err
	}
	v, err := c.Unmarshal(payload)
	if err != nil {
		return Reply{}, err
	}
	out := Reply{Status: st}
	switch st {
	case StatusOK:
		arr, ok := v.(value.Array)
		if !ok {
			return Reply{}, fmt.Errorf("%w: OK payload is %s, want array", ErrUnsupportedWireType, v.Kind())
		}
		out.Results = arr
	default:
		s, ok := v.(value.String)
		if !ok {
			return Reply{}, fmt.Errorf("%w: %s payload is %s, want string", ErrUnsupportedWireType, st, v.Kind())
		}
		out.Text = string(s)
	}
	return out, nil
}
