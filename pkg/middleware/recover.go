package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/handler"
)

// Recover turns panics in a leaf, or in the stream it returns, into
// handler errors.
func Recover() handler.Middleware {
	return func(c *handler.Call, next func() (any, error)) (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error(fmt.Sprintf("%s - %s panicked: %v", logPrefix, c.Path(), r))
				res, err = nil, callerr.Panic(r, debug.Stack())
			}
		}()
		res, err = next()
		if err != nil {
			return res, err
		}
		if s, ok := handler.AsStream(res); ok {
			return guard(c, s), nil
		}
		return res, nil
	}
}

func guard(c *handler.Call, s handler.Stream) handler.Stream {
	return func(yield func(any, error) bool) {
		stopped := false
		defer func() {
			if r := recover(); r != nil {
				slog.Error(fmt.Sprintf("%s - stream %s panicked: %v", logPrefix, c.Path(), r))
				if !stopped {
					yield(nil, callerr.Panic(r, debug.Stack()))
				}
			}
		}()
		for item, err := range s {
			if !yield(item, err) {
				stopped = true
				return
			}
		}
	}
}
