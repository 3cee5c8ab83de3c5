package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/luamq/internal/value"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Unmarshal decodes exactly one wire value from data.
func (c *Codec) Unmarshal(data []byte) (value.Value, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	v, err := c.decodeValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, ErrTrailingBytes
	}
	return v, nil
}

// Decode reads one wire value from r.
func (c *Codec) Decode(r io.Reader) (value.Value, error) {
	return c.decodeValue(msgpack.NewDecoder(r), 0)
}

func (c *Codec) decodeValue(dec *msgpack.Decoder, depth int) (value.Value, error) {
	if depth > c.opts.MaxDepth {
		return nil, ErrTooDeep
	}
	code, err := dec.PeekCode()
	if err != nil {
		return nil, wrapRead(err)
	}

	switch {
	case code == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return nil, wrapRead(err)
		}
		return value.Nil{}, nil
	case code == msgpcode.False || code == msgpcode.True:
		b, err := dec.DecodeBool()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.Bool(b), nil
	case isUintCode(code):
		n, err := dec.DecodeUint64()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.Number(float64(n)), nil
	case msgpcode.IsFixedNum(code) || isIntCode(code):
		n, err := dec.DecodeInt64()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.Number(float64(n)), nil
	case code == msgpcode.Float:
		f, err := dec.DecodeFloat32()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.Number(float64(f)), nil
	case code == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.Number(f), nil
	case msgpcode.IsString(code):
		s, err := dec.DecodeString()
		if err != nil {
			return nil, wrapRead(err)
		}
		native, err := c.opts.Charset.ToNative([]byte(s))
		if err != nil {
			return nil, err
		}
		return value.String(native), nil
	case msgpcode.IsBin(code):
		// Binary payloads have no text encoding; they pass through as is.
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, wrapRead(err)
		}
		return value.String(b), nil
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		return c.decodeArray(dec, depth)
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		return c.decodeMap(dec, depth)
	default:
		return nil, fmt.Errorf("%w: code=%#x", ErrUnsupportedWireType, code)
	}
}

func (c *Codec) decodeArray(dec *msgpack.Decoder, depth int) (value.Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, wrapRead(err)
	}
	out := make(value.Array, 0, capHint(n))
	for i := 0; i < n; i++ {
		item, err := c.decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Codec) decodeMap(dec *msgpack.Decoder, depth int) (value.Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, wrapRead(err)
	}
	out := make(value.Map, 0, capHint(n))
	for i := 0; i < n; i++ {
		k, err := c.decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		v, err := c.decodeValue(dec, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, value.Pair{Key: k, Val: v})
	}
	return out, nil
}

func isUintCode(c byte) bool {
	return c == msgpcode.Uint8 || c == msgpcode.Uint16 || c == msgpcode.Uint32 || c == msgpcode.Uint64
}

func isIntCode(c byte) bool {
	return c == msgpcode.Int8 || c == msgpcode.Int16 || c == msgpcode.Int32 || c == msgpcode.Int64
}

// capHint keeps a hostile length header from forcing a huge allocation.
func capHint(n int) int {
	if n < 0 {
		return 0
	}
	if n > 1024 {
		return 1024
	}
	return n
}

func wrapRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
