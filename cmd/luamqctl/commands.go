package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/luamq/internal/client"
	"github.com/danmuck/luamq/internal/protocol/charset"
	"gopkg.in/yaml.v3"
)

var errUsage = errors.New("usage: <function> [args...]")

type caller interface {
	Call(ctx context.Context, name string, args ...any) (client.Result, error)
}

// parseArgs reads each argument as a YAML scalar or flow collection, so
// 1 is a number, "1" a string, [1, 2] a list and {a: 1} a map.
func parseArgs(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, arg := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// formatResult prints OK values as a YAML list in the terminal charset.
func formatResult(w io.Writer, cs charset.Charset, res client.Result) error {
	values := res.Values
	if values == nil {
		values = []any{}
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return writeText(w, cs, data)
}

// printError writes err on its own line in the terminal charset.
func printError(w io.Writer, cs charset.Charset, err error) {
	if werr := writeText(w, cs, []byte(err.Error()+"\n")); werr != nil {
		fmt.Fprintln(w, err)
	}
}

func writeText(w io.Writer, cs charset.Charset, utf8Text []byte) error {
	out, err := cs.ToNative(utf8Text)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// fromTerminal converts fields typed in the terminal charset to UTF-8.
func fromTerminal(cs charset.Charset, fields []string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		text, err := cs.ToWire([]byte(f))
		if err != nil {
			return nil, err
		}
		out[i] = string(text)
	}
	return out, nil
}

// runCall executes one "name args..." invocation and prints the outcome.
func runCall(ctx context.Context, c caller, cs charset.Charset, w io.Writer, fields []string) error {
	if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
		return errUsage
	}
	fields, err := fromTerminal(cs, fields)
	if err != nil {
		return err
	}
	args, err := parseArgs(fields[1:])
	if err != nil {
		return err
	}
	res, err := c.Call(ctx, fields[0], args...)
	if err != nil {
		return err
	}
	return formatResult(w, cs, res)
}

// splitLine splits a REPL line on whitespace outside quotes and brackets.
// It works on bytes so text in a single-byte terminal charset passes
// through untouched.
func splitLine(line string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		quote  byte
		depth  int
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		b := line[i]
		switch {
		case quote != 0:
			cur.WriteByte(b)
			if b == quote {
				quote = 0
			}
		case b == '"' || b == '\'':
			quote = b
			cur.WriteByte(b)
		case b == '[' || b == '{':
			depth++
			cur.WriteByte(b)
		case b == ']' || b == '}':
			depth--
			cur.WriteByte(b)
		case (b == ' ' || b == '\t') && depth == 0:
			flush()
		default:
			cur.WriteByte(b)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if depth != 0 {
		return nil, errors.New("unbalanced brackets")
	}
	flush()
	return fields, nil
}
