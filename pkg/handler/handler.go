// Package handler defines handler trees: namespaces of nested nodes whose
// leaves are callable. A leaf is either a Go function from a Catalog or an
// external command whose stdout lines become stream items.
package handler

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"github.com/morezero/streamcall/pkg/bus"
)

const logPrefix = "handler:handler"

// Func is a callable leaf. It returns a single value, or a Stream for
// incremental results.
type Func func(c *Call) (any, error)

// Stream is a lazily produced sequence of results. Iteration stops at the
// first non-nil error.
type Stream iter.Seq2[any, error]

// Middleware wraps a leaf invocation. Calling next runs the rest of the chain.
type Middleware func(c *Call, next func() (any, error)) (any, error)

// Call is the explicit context handed to every leaf.
type Call struct {
	Context context.Context
	Prefix  string
	Entry   []string
	Args    []any
	// Evt is the stream token, empty for unary calls.
	Evt string
	// Receiver is the node holding the leaf.
	Receiver *Node
	Leaf     *Leaf
	// Params carries the static parameters declared for the leaf.
	Params map[string]any
	Bus    bus.Bus
	// Request and Response are set when the call arrived over HTTP.
	Request  *http.Request
	Response http.ResponseWriter
}

// Path returns the dotted entry path.
func (c *Call) Path() string {
	return strings.Join(c.Entry, ".")
}

// Arg returns positional argument i, or nil when absent.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Streaming reports whether the caller asked for a stream.
func (c *Call) Streaming() bool {
	return c.Evt != ""
}

// AsStream reports whether v is a stream result and returns it.
func AsStream(v any) (Stream, bool) {
	switch s := v.(type) {
	case Stream:
		return s, s != nil
	case iter.Seq2[any, error]:
		return Stream(s), s != nil
	case iter.Seq[any]:
		if s == nil {
			return nil, false
		}
		return func(yield func(any, error) bool) {
			for item := range s {
				if !yield(item, nil) {
					return
				}
			}
		}, true
	}
	return nil, false
}

// Values builds a Stream over fixed items.
func Values(items ...any) Stream {
	return func(yield func(any, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains s into a slice, stopping at the first error.
func Collect(s Stream) ([]any, error) {
	out := []any{}
	for item, err := range s {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
