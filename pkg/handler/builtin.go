package handler

import (
	"errors"
	"fmt"
	"time"
)

// RegisterBuiltins adds the functions every deployment ships with.
//
//	sys.hello  returns "world"
//	sys.echo   returns its arguments (the single argument when there is one)
//	sys.stream yields 0..n-1 with an optional pause in milliseconds
//	sys.now    returns the current time
//	sys.fail   fails with its first argument as message
func RegisterBuiltins(c *Catalog) {
	c.Register("sys.hello", hello)
	c.Register("sys.echo", echo)
	c.Register("sys.stream", count)
	c.Register("sys.now", func(*Call) (any, error) { return time.Now().UTC(), nil })
	c.Register("sys.fail", fail)
}

func hello(c *Call) (any, error) {
	if name, ok := c.Arg(0).(string); ok && name != "" {
		return "hello " + name, nil
	}
	return "world", nil
}

func echo(c *Call) (any, error) {
	if len(c.Args) == 1 {
		return c.Args[0], nil
	}
	return c.Args, nil
}

func count(c *Call) (any, error) {
	n := 10
	if v, ok := number(c.Arg(0)); ok {
		n = int(v)
	} else if v, ok := number(c.Params["count"]); ok {
		n = int(v)
	}
	var pause time.Duration
	if v, ok := number(c.Arg(1)); ok {
		pause = time.Duration(v) * time.Millisecond
	} else if v, ok := number(c.Params["intervalMs"]); ok {
		pause = time.Duration(v) * time.Millisecond
	}

	return Stream(func(yield func(any, error) bool) {
		for i := 0; i < n; i++ {
			if pause > 0 {
				select {
				case <-time.After(pause):
				case <-c.Context.Done():
					return
				}
			}
			if !yield(float64(i), nil) {
				return
			}
		}
	}), nil
}

func fail(c *Call) (any, error) {
	if msg, ok := c.Arg(0).(string); ok && msg != "" {
		return nil, errors.New(msg)
	}
	return nil, fmt.Errorf("%s - sys.fail called", logPrefix)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
