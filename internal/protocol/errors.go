package protocol

import "errors"

var (
	ErrUnsupportedWireType   = errors.New("protocol: unsupported wire type")
	ErrTooDeep               = errors.New("protocol: value nesting too deep")
	ErrTrailingBytes         = errors.New("protocol: trailing bytes after value")
	ErrTruncated             = errors.New("protocol: truncated data")
	ErrEnvelopeNotArray      = errors.New("protocol: call envelope is not an array")
	ErrEmptyEnvelope         = errors.New("protocol: call envelope is empty")
	ErrFunctionNameNotString = errors.New("protocol: function name is not a string")
	ErrUnknownStatus         = errors.New("protocol: unknown reply status")
)
