// Package callerr defines the error taxonomy shared by the dispatcher, the
// transports and the client, and the wire form errors travel in.
package callerr

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/morezero/streamcall/pkg/codec"
)

// Error codes carried on the wire.
const (
	CodeResolution   = "RESOLUTION_FAILED"
	CodeHandler      = "HANDLER_FAILED"
	CodeCodec        = "CODEC_FAILED"
	CodeOffload      = "OFFLOAD_FAILED"
	CodeRegistryLoad = "REGISTRY_LOAD_FAILED"
	CodeEvtReused    = "EVT_REUSED"
	CodeInvalid      = "INVALID_REQUEST"
)

// Error names, matching the kind of failure.
const (
	NameResolution   = "ResolutionError"
	NameHandler      = "HandlerError"
	NameCodec        = "CodecError"
	NameOffload      = "OffloadError"
	NameRegistryLoad = "RegistryLoadError"
	NameRequest      = "RequestError"
)

// ErrorDetail is the wire form of an error.
type ErrorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error is a classified failure raised inside the process.
type Error struct {
	Name    string
	Code    string
	Message string
	Stack   string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Resolution reports a call that names no handler.
func Resolution(format string, args ...any) *Error {
	return &Error{Name: NameResolution, Code: CodeResolution, Message: fmt.Sprintf(format, args...)}
}

// Handler wraps an error returned or raised by a handler. The stack of the
// calling goroutine is recorded; it is only sent when stacks are exposed.
func Handler(cause error) *Error {
	var e *Error
	if errors.As(cause, &e) {
		return e
	}
	return &Error{Name: NameHandler, Code: CodeHandler, Message: cause.Error(), Stack: string(debug.Stack()), Cause: cause}
}

// Panic converts a recovered panic value into a handler error.
func Panic(v any, stack []byte) *Error {
	return &Error{Name: NameHandler, Code: CodeHandler, Message: fmt.Sprintf("panic: %v", v), Stack: string(stack)}
}

// Codec wraps an encode or decode failure.
func Codec(cause error) *Error {
	return &Error{Name: NameCodec, Code: CodeCodec, Message: cause.Error(), Cause: cause}
}

// Offload reports a failure to start, feed or reach a worker.
func Offload(message string, cause error) *Error {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	return &Error{Name: NameOffload, Code: CodeOffload, Message: message, Cause: cause}
}

// RegistryLoad reports a manifest that failed to load.
func RegistryLoad(cause error) *Error {
	return &Error{Name: NameRegistryLoad, Code: CodeRegistryLoad, Message: cause.Error(), Cause: cause}
}

// EvtReused reports a stream token that has already been used.
func EvtReused(evt string) *Error {
	return &Error{Name: NameRequest, Code: CodeEvtReused, Message: fmt.Sprintf("stream token %q already used", evt)}
}

// Invalid reports a malformed call envelope.
func Invalid(format string, args ...any) *Error {
	return &Error{Name: NameRequest, Code: CodeInvalid, Message: fmt.Sprintf(format, args...)}
}

// Detail converts any error into its wire form. Unclassified errors are
// reported as handler failures. Stacks are dropped unless exposeStack is set.
func Detail(err error, exposeStack bool) *ErrorDetail {
	if err == nil {
		return nil
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		d := remote.Detail
		if !exposeStack {
			d.Stack = ""
		}
		return &d
	}

	var e *Error
	if !errors.As(err, &e) {
		var cerr *codec.Error
		if errors.As(err, &cerr) {
			e = Codec(cerr)
		} else {
			e = Handler(err)
		}
	}

	d := &ErrorDetail{Name: e.Name, Message: e.Message, Code: e.Code, Details: e.Details}
	if exposeStack {
		d.Stack = e.Stack
	}
	return d
}

// RemoteError is an error received from another process or over HTTP.
type RemoteError struct {
	Detail ErrorDetail
}

func (e *RemoteError) Error() string {
	if e.Detail.Code != "" {
		return e.Detail.Code + ": " + e.Detail.Message
	}
	return e.Detail.Name + ": " + e.Detail.Message
}

// Remote wraps a received detail as an error.
func Remote(d *ErrorDetail) *RemoteError {
	if d == nil {
		return nil
	}
	return &RemoteError{Detail: *d}
}

// HasCode reports whether err carries the given wire code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	var r *RemoteError
	if errors.As(err, &r) {
		return r.Detail.Code == code
	}
	return false
}
