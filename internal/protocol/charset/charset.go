// Package charset converts text between the wire encoding (UTF-8) and the
// host engine's native encoding.
package charset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var ErrUnknownCharset = errors.New("charset: unknown charset")

// Charset is the host's native text encoding. The zero value is UTF-8
// passthrough.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// UTF8 is passthrough: native strings are already UTF-8.
var UTF8 = Charset{name: "utf-8"}

// Lookup resolves a charset by WHATWG or IANA name, e.g. "windows-1251".
func Lookup(name string) (Charset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		return UTF8, nil
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		return Charset{}, fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = key
	}
	if canonical == "utf-8" {
		return UTF8, nil
	}
	return Charset{name: canonical, enc: enc}, nil
}

// MustLookup is Lookup for package-level defaults and tests.
func MustLookup(name string) Charset {
	cs, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return cs
}

func (c Charset) Name() string {
	if c.name == "" {
		return UTF8.name
	}
	return c.name
}

func (c Charset) IsPassthrough() bool {
	return c.enc == nil
}

// ToNative converts UTF-8 wire text to the native encoding. Runes the code
// page cannot represent are replaced with its substitute byte (0x1A).
func (c Charset) ToNative(wire []byte) ([]byte, error) {
	if c.enc == nil {
		return wire, nil
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes(wire)
	if err != nil {
		return nil, fmt.Errorf("charset: encode %s: %w", c.Name(), err)
	}
	return out, nil
}

// ToWire converts native text to UTF-8.
func (c Charset) ToWire(native []byte) ([]byte, error) {
	if c.enc == nil {
		return native, nil
	}
	out, err := c.enc.NewDecoder().Bytes(native)
	if err != nil {
		return nil, fmt.Errorf("charset: decode %s: %w", c.Name(), err)
	}
	return out, nil
}
