package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/luamq/internal/value"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts scripting values to and from MessagePack.
type Codec struct {
	opts Options
}

func NewCodec(opts Options) *Codec {
	return &Codec{opts: opts.WithDefaults()}
}

func (c *Codec) Options() Options {
	return c.opts
}

// Marshal encodes v as a single wire value.
func (c *Codec) Marshal(v value.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes v to w.
func (c *Codec) Encode(w io.Writer, v value.Value) error {
	enc := msgpack.NewEncoder(w)
	return c.encodeValue(enc, v, 0)
}

// EncodeResults writes the OK payload: an array holding every result in
// call-return order.
func (c *Codec) EncodeResults(results []value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(results)); err != nil {
		return nil, err
	}
	for i, v := range results {
		if err := c.encodeValue(enc, v, 1); err != nil {
			return nil, fmt.Errorf("result %d: %w", i+1, err)
		}
	}
	return buf.Bytes(), nil
}

// EncodeText writes a single string payload from native engine text.
func (c *Codec) EncodeText(native string) ([]byte, error) {
	return c.Marshal(value.String(native))
}

// EncodeWireText writes a single string payload that is already UTF-8.
func (c *Codec) EncodeWireText(text string) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).EncodeString(text); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) encodeValue(enc *msgpack.Encoder, v value.Value, depth int) error {
	if depth > c.opts.MaxDepth {
		return ErrTooDeep
	}
	switch tv := v.(type) {
	case nil, value.Nil:
		return enc.EncodeNil()
	case value.Bool:
		return enc.EncodeBool(bool(tv))
	case value.Number:
		if tv.IsInteger() {
			return enc.EncodeInt(int64(tv))
		}
		return enc.EncodeFloat64(float64(tv))
	case value.String:
		text, err := c.opts.Charset.ToWire([]byte(tv))
		if err != nil {
			return err
		}
		return enc.EncodeString(string(text))
	case value.Map:
		if err := enc.EncodeMapLen(tv.Len()); err != nil {
			return err
		}
		for _, p := range tv {
			if err := c.encodeValue(enc, p.Key, depth+1); err != nil {
				return err
			}
			if err := c.encodeValue(enc, p.Val, depth+1); err != nil {
				return err
			}
		}
		return nil
	case value.Array:
		if c.opts.ListsAsArrays {
			if err := enc.EncodeArrayLen(len(tv)); err != nil {
				return err
			}
			for _, item := range tv {
				if err := c.encodeValue(enc, item, depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		if err := enc.EncodeMapLen(len(tv)); err != nil {
			return err
		}
		for i, item := range tv {
			if err := enc.EncodeInt(int64(i + 1)); err != nil {
				return err
			}
			if err := c.encodeValue(enc, item, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		// Functions, userdata and anything else without a wire form.
		return enc.EncodeNil()
	}
}
