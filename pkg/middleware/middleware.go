// Package middleware holds the dispatcher middlewares that can be named in a
// bootstrap file, plus the HTTP collectors of the transport.
package middleware

import (
	"fmt"
	"strings"

	"github.com/morezero/streamcall/pkg/handler"
)

const logPrefix = "middleware:middleware"

const (
	NameLogging = "logging"
	NameMetrics = "metrics"
	NameRecover = "recover"
)

var builtins = map[string]func() handler.Middleware{
	NameLogging: Logging,
	NameMetrics: Metrics,
	NameRecover: Recover,
}

// Lookup returns the middleware registered under name.
func Lookup(name string) (handler.Middleware, error) {
	mk, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%s - unknown middleware %q", logPrefix, name)
	}
	return mk(), nil
}

// Resolve maps names to middlewares, keeping their order.
func Resolve(names []string) ([]handler.Middleware, error) {
	out := make([]handler.Middleware, 0, len(names))
	for _, name := range names {
		mw, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, mw)
	}
	return out, nil
}

// observe wraps a stream so done runs once iteration ends, with the number
// of items seen and the error that stopped it.
func observe(s handler.Stream, done func(items int, err error)) handler.Stream {
	return func(yield func(any, error) bool) {
		items := 0
		var failed error
		defer func() { done(items, failed) }()
		for item, err := range s {
			if err != nil {
				failed = err
			} else {
				items++
			}
			if !yield(item, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}
