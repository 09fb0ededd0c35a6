package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
)

const emitterLogPrefix = "stream:emitter"

// ErrClosed is returned when emitting after done.
var ErrClosed = errors.New("stream: closed")

// Emitter is the producing side of one stream. It guarantees a single
// terminal message.
type Emitter struct {
	bus         bus.Bus
	evt         string
	worker      *WorkerRef
	exposeStack bool

	mu     sync.Mutex
	closed bool
}

// NewEmitter creates the producer for evt.
func NewEmitter(b bus.Bus, evt string) *Emitter {
	return &Emitter{bus: b, evt: evt}
}

// WithWorker stamps the done message with the producing worker.
func (e *Emitter) WithWorker(ref *WorkerRef) *Emitter {
	e.worker = ref
	return e
}

// ExposeStacks includes handler stacks in error messages.
func (e *Emitter) ExposeStacks(expose bool) *Emitter {
	e.exposeStack = expose
	return e
}

// Evt returns the stream token.
func (e *Emitter) Evt() string { return e.evt }

// Value encodes v and emits it. Encoding failures are returned to the
// caller and nothing is emitted.
func (e *Emitter) Value(v any) error {
	env, err := codec.Encode(v)
	if err != nil {
		return callerr.Codec(err)
	}
	return e.emit(&Message{Value: env}, false)
}

// Error emits a non-terminal error message.
func (e *Emitter) Error(err error) error {
	return e.emit(&Message{Err: callerr.Detail(err, e.exposeStack)}, false)
}

// Done closes the stream.
func (e *Emitter) Done() error {
	return e.emit(&Message{Done: true, Worker: e.worker}, true)
}

// Cancelled closes the stream after a consumer asked it to stop.
func (e *Emitter) Cancelled() error {
	return e.emit(&Message{Done: true, Cancelled: true, Worker: e.worker}, true)
}

// Fail emits err followed by done. Done is attempted even when the error
// could not be emitted.
func (e *Emitter) Fail(err error) error {
	errErr := e.Error(err)
	return errors.Join(errErr, e.Done())
}

// Closed reports whether done has been emitted.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) emit(m *Message, terminal bool) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if terminal {
		e.closed = true
	}
	if err := e.bus.Emit(e.evt, data); err != nil {
		slog.Error(fmt.Sprintf("%s - emit on %s failed: %v", emitterLogPrefix, e.evt, err))
		return err
	}
	return nil
}
