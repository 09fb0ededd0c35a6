package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/streamcall/pkg/handler"
)

// Logging writes one line per call. Streams are logged when they end.
func Logging() handler.Middleware {
	return func(c *handler.Call, next func() (any, error)) (any, error) {
		start := time.Now()
		res, err := next()
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - call prefix=%q path=%s evt=%q failed after %s: %v",
				logPrefix, c.Prefix, c.Path(), c.Evt, time.Since(start), err))
			return res, err
		}
		s, ok := handler.AsStream(res)
		if !ok {
			slog.Info(fmt.Sprintf("%s - call prefix=%q path=%s evt=%q took %s",
				logPrefix, c.Prefix, c.Path(), c.Evt, time.Since(start)))
			return res, nil
		}
		return observe(s, func(items int, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - stream prefix=%q path=%s evt=%q failed after %d items in %s: %v",
					logPrefix, c.Prefix, c.Path(), c.Evt, items, time.Since(start), err))
				return
			}
			slog.Info(fmt.Sprintf("%s - stream prefix=%q path=%s evt=%q sent %d items in %s",
				logPrefix, c.Prefix, c.Path(), c.Evt, items, time.Since(start)))
		}), nil
	}
}
