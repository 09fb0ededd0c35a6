package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
	"github.com/morezero/streamcall/pkg/commsutil"
	"github.com/morezero/streamcall/pkg/handler"
	"github.com/morezero/streamcall/pkg/stream"
)

const logPrefix = "dispatcher:dispatch"

const defaultClosedRetention = 10 * time.Minute

// Resolver returns the active tree of a namespace.
type Resolver interface {
	Get(prefix string) (*handler.Node, bool)
}

// Offloader runs a streaming call in a separate worker. It returns once
// the worker is gone.
type Offloader interface {
	Offload(ctx context.Context, evt string, env *codec.Envelope) error
}

// Config holds dispatcher configuration.
type Config struct {
	// ExposeStack sends handler stacks to callers.
	ExposeStack bool
	// ClosedRetention is how long finished stream tokens stay reserved.
	ClosedRetention time.Duration
	// Worker stamps every done message, set when running as an offload worker.
	Worker *stream.WorkerRef
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Registry    Resolver
	Bus         bus.Bus
	Middlewares []handler.Middleware
	// Offloader, when set, runs every streaming call in a worker.
	Offloader Offloader
	Config    Config
}

// Dispatcher routes call envelopes to handler leaves.
type Dispatcher struct {
	registry    Resolver
	bus         bus.Bus
	middlewares []handler.Middleware
	offloader   Offloader
	config      Config
	calls       *callTable
	running     sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	cfg := params.Config
	if cfg.ClosedRetention <= 0 {
		cfg.ClosedRetention = defaultClosedRetention
	}
	return &Dispatcher{
		registry:    params.Registry,
		bus:         params.Bus,
		middlewares: params.Middlewares,
		offloader:   params.Offloader,
		config:      cfg,
		calls:       newCallTable(cfg.ClosedRetention),
	}
}

// Dispatch handles one call.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	call, err := DecodeCall(req.Envelope)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - rejected envelope: %v", logPrefix, err))
		evt := PeekEvt(req.Envelope)
		if evt != "" && commsutil.ValidateTopic(evt) == nil && d.calls.open(evt) {
			_ = d.emitter(evt).Fail(err)
			d.calls.finish(evt, StateFailed)
			return &Response{Evt: evt, Err: d.detail(err)}
		}
		return &Response{Err: d.detail(err)}
	}

	slog.Debug(fmt.Sprintf("%s - prefix=%q entry=%s evt=%s", logPrefix, call.Prefix, strings.Join(call.Entry, "."), call.Evt))

	if call.Evt != "" {
		return d.dispatchStream(ctx, req, call)
	}
	return d.dispatchUnary(ctx, req, call)
}

func (d *Dispatcher) dispatchUnary(ctx context.Context, req *Request, call *CallRequest) *Response {
	c, err := d.resolve(ctx, req, call)
	if err != nil {
		return &Response{Err: d.detail(err)}
	}

	res, err := d.invoke(c)
	if err != nil {
		return &Response{Err: d.detail(err)}
	}

	// A stream answered to a unary caller is collected.
	if s, ok := handler.AsStream(res); ok {
		items, err := handler.Collect(s)
		if err != nil {
			return &Response{Err: d.detail(callerr.Handler(err))}
		}
		res = items
	}

	env, err := codec.Encode(res)
	if err != nil {
		return &Response{Err: d.detail(callerr.Codec(err))}
	}
	return &Response{Ret: env}
}

func (d *Dispatcher) dispatchStream(ctx context.Context, req *Request, call *CallRequest) *Response {
	evt := call.Evt
	if err := commsutil.ValidateTopic(evt); err != nil {
		return &Response{Err: d.detail(callerr.Invalid("invalid stream token %q", evt))}
	}
	if !d.calls.open(evt) {
		slog.Warn(fmt.Sprintf("%s - stream token %s reused", logPrefix, evt))
		return &Response{Evt: evt, Err: d.detail(callerr.EvtReused(evt))}
	}

	if d.offloader != nil {
		d.calls.set(evt, StateStreaming)
		d.running.Add(1)
		go func() {
			defer d.running.Done()
			state := StateClosed
			if err := d.offloader.Offload(context.WithoutCancel(ctx), evt, req.Envelope); err != nil {
				slog.Error(fmt.Sprintf("%s - offload of %s failed: %v", logPrefix, evt, err))
				state = StateFailed
			}
			d.calls.finish(evt, state)
		}()
		return &Response{Evt: evt}
	}

	d.calls.set(evt, StateResolving)
	em := d.emitter(evt)
	c, err := d.resolve(ctx, req, call)
	if err != nil {
		_ = em.Fail(err)
		d.calls.finish(evt, StateFailed)
		return &Response{Evt: evt, Err: d.detail(err)}
	}

	// The producer outlives the request that started it and stops on a
	// message on the cancel topic.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var cancelled atomic.Bool
	cancelSub, err := d.bus.On(stream.CancelTopic(evt), func([]byte) {
		cancelled.Store(true)
		cancel()
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - cannot listen for cancellation of %s: %v", logPrefix, evt, err))
	}
	c.Context = runCtx

	d.calls.set(evt, StateStreaming)
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		defer cancel()
		defer func() { _ = d.bus.Off(cancelSub) }()
		d.calls.finish(evt, d.runStream(c, em, &cancelled))
	}()
	return &Response{Evt: evt}
}

// runStream drives the handler and returns the terminal state.
func (d *Dispatcher) runStream(c *handler.Call, em *stream.Emitter, cancelled *atomic.Bool) (state State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - stream %s panicked: %v", logPrefix, c.Evt, r))
			_ = em.Fail(callerr.Panic(r, debug.Stack()))
			state = StateFailed
		}
	}()

	res, err := d.invoke(c)
	if err != nil {
		_ = em.Fail(err)
		return StateFailed
	}

	s, ok := handler.AsStream(res)
	if !ok {
		s = handler.Values(res)
	}

	for item, err := range s {
		if cancelled.Load() {
			break
		}
		if err != nil {
			_ = em.Fail(callerr.Handler(err))
			return StateFailed
		}
		if err := em.Value(item); err != nil {
			if !errors.Is(err, stream.ErrClosed) {
				_ = em.Fail(err)
			}
			return StateFailed
		}
	}

	if cancelled.Load() {
		slog.Info(fmt.Sprintf("%s - stream %s cancelled", logPrefix, c.Evt))
		_ = em.Cancelled()
		return StateClosed
	}
	_ = em.Done()
	return StateClosed
}

func (d *Dispatcher) resolve(ctx context.Context, req *Request, call *CallRequest) (*handler.Call, error) {
	if d.registry == nil {
		return nil, callerr.Resolution("no registry configured")
	}
	tree, ok := d.registry.Get(call.Prefix)
	if !ok {
		return nil, callerr.Resolution("namespace %q is not loaded", call.Prefix)
	}
	leaf, recv, err := tree.Resolve(call.Entry)
	if err != nil {
		return nil, callerr.Resolution("%v", err)
	}

	c := &handler.Call{
		Context:  ctx,
		Prefix:   call.Prefix,
		Entry:    call.Entry,
		Args:     call.Args,
		Evt:      call.Evt,
		Receiver: recv,
		Leaf:     leaf,
		Params:   leaf.Params,
		Bus:      d.bus,
	}
	if req.HTTPRequest != nil {
		c.Request = req.HTTPRequest
		// The response writer is gone once a stream has been acknowledged.
		if call.Evt == "" {
			c.Response = req.HTTPResponse
		}
	}
	return c, nil
}

func (d *Dispatcher) invoke(c *handler.Call) (any, error) {
	res, err := chain(c, d.middlewares, func() (any, error) { return c.Leaf.Invoke(c) })
	if err != nil {
		return nil, callerr.Handler(err)
	}
	return res, nil
}

func chain(c *handler.Call, mws []handler.Middleware, terminal func() (any, error)) (any, error) {
	if len(mws) == 0 {
		return terminal()
	}
	return mws[0](c, func() (any, error) { return chain(c, mws[1:], terminal) })
}

func (d *Dispatcher) emitter(evt string) *stream.Emitter {
	return stream.NewEmitter(d.bus, evt).WithWorker(d.config.Worker).ExposeStacks(d.config.ExposeStack)
}

func (d *Dispatcher) detail(err error) *callerr.ErrorDetail {
	return callerr.Detail(err, d.config.ExposeStack)
}

// State returns the lifecycle state of a stream token.
func (d *Dispatcher) State(evt string) (State, bool) {
	return d.calls.get(evt)
}

// Active returns the number of streams that have not finished.
func (d *Dispatcher) Active() int {
	return d.calls.active()
}

// Wait blocks until every running stream has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
