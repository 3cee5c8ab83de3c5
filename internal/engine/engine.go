// Package engine defines the host scripting engine boundary used by the
// dispatcher.
//
// The engine owns a value stack shared with its own internals. Callers only
// push, read, truncate and call; they never index it relative to engine
// bookkeeping.
package engine

import (
	"errors"
	"fmt"

	"github.com/danmuck/luamq/internal/value"
)

var ErrStackUnderflow = errors.New("engine: stack underflow")

// Engine is one single-threaded scripting runtime.
type Engine interface {
	// Top returns the number of values on the stack.
	Top() int
	// SetTop truncates or nil-extends the stack to n values.
	SetTop(n int)
	Push(v value.Value)
	// Get converts the value at absolute 1-based position idx. It fails when
	// the value exceeds the engine's conversion limits.
	Get(idx int) (value.Value, error)
	// PushGlobal pushes the named global unless it is absent (nil). It
	// leaves the stack unchanged and returns false when absent. A present
	// but non-callable global fails later, inside Call.
	PushGlobal(name string) bool
	// Call invokes the callable sitting below the top nargs values, in
	// protected mode, keeping every result. It returns the result count.
	Call(nargs int) (int, error)
}

// CallError is a failure raised inside the engine during Call.
type CallError struct {
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("engine: call failed: %s", e.Message)
}

// Results copies the values above level in stack order and truncates the
// stack back to level, including when a value fails to convert.
func Results(eng Engine, level int) ([]value.Value, error) {
	top := eng.Top()
	if top < level {
		return nil, fmt.Errorf("%w: top=%d level=%d", ErrStackUnderflow, top, level)
	}
	out := make([]value.Value, 0, top-level)
	for i := level + 1; i <= top; i++ {
		v, err := eng.Get(i)
		if err != nil {
			eng.SetTop(level)
			return nil, err
		}
		out = append(out, v)
	}
	eng.SetTop(level)
	return out, nil
}
