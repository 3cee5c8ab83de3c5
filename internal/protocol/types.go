package protocol

import (
	"fmt"

	"github.com/danmuck/luamq/internal/protocol/charset"
)

// Status is the first frame of every reply.
type Status string

const (
	StatusOK           Status = "OK"
	StatusRuntimeError Status = "RUNTIME_ERROR"
	StatusNotFound     Status = "NOT_FOUND"
)

// ParseStatus validates a received status frame. Matching is case-sensitive.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusOK, StatusRuntimeError, StatusNotFound:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

const DefaultMaxDepth = 64

// Options configures a Codec.
type Options struct {
	// Charset is the engine's native text encoding.
	Charset charset.Charset
	// ListsAsArrays encodes value.Array as a wire array instead of a
	// 1..N keyed map. Breaks compatibility with existing callers.
	ListsAsArrays bool
	// MaxDepth bounds aggregate nesting on decode and encode.
	MaxDepth int
}

func DefaultOptions() Options {
	return Options{
		Charset:  charset.UTF8,
		MaxDepth: DefaultMaxDepth,
	}
}

// WithDefaults fills zero fields with defaults.
func (o Options) WithDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}
