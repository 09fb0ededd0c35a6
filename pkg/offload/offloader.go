package offload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
	"github.com/morezero/streamcall/pkg/store"
	"github.com/morezero/streamcall/pkg/stream"
)

const offloaderLogPrefix = "offload:offloader"

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultInlineLimit      = 256 << 10
	killTimeout             = 10 * time.Second
	// replyGrace is how long a failed reply waits for the worker's own done.
	replyGrace = time.Second
)

// Config holds offloader configuration.
type Config struct {
	Namespace string
	Image     string
	// Command is the worker command prefix; "worker <res>" is appended.
	Command []string
	Env     map[string]string
	// HandshakeTimeout bounds both the ack and the reply.
	HandshakeTimeout time.Duration
	// InlineLimit is the largest frame sent on the bus; larger frames go
	// through the store.
	InlineLimit int
	// MaxRuntime bounds a worker from ack to done. Zero means no limit.
	MaxRuntime  time.Duration
	ExposeStack bool
}

// DefaultConfig returns the default offloader configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:        "default",
		HandshakeTimeout: DefaultHandshakeTimeout,
		InlineLimit:      DefaultInlineLimit,
	}
}

// NewOffloaderParams holds parameters for NewOffloader.
type NewOffloaderParams struct {
	Bus          bus.Bus
	Orchestrator Orchestrator
	// Store carries frames above the inline limit. Without one every frame
	// is sent inline.
	Store  store.Store
	Config Config
}

// Offloader is the caller side of a remote offload.
type Offloader struct {
	bus   bus.Bus
	orch  Orchestrator
	store store.Store
	cfg   Config
}

// NewOffloader creates a new Offloader.
func NewOffloader(params NewOffloaderParams) *Offloader {
	cfg := params.Config
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = DefaultInlineLimit
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Offloader{bus: params.Bus, orch: params.Orchestrator, store: params.Store, cfg: cfg}
}

// offload is the bookkeeping of one call.
type offload struct {
	o       *Offloader
	evt     string
	res     string
	spec    WorkerSpec
	emitter *stream.Emitter

	done     chan struct{}
	doneOnce sync.Once
	killOnce sync.Once
	forked   bool
	counted  bool
}

// Offload forks a worker for the stream evt and returns once the worker
// has finished and been killed. Failures are reported on evt as err then
// done and returned.
func (o *Offloader) Offload(ctx context.Context, evt string, env *codec.Envelope) (err error) {
	res := NewRes()
	spec := WorkerSpec{
		Name:      WorkerName(evt),
		Namespace: o.cfg.Namespace,
		Image:     o.cfg.Image,
		Command:   append(append([]string{}, o.cfg.Command...), "worker", res),
		Env:       map[string]string{},
	}
	for k, v := range o.cfg.Env {
		spec.Env[k] = v
	}
	spec.Env[EnvWorkerName] = spec.Name
	spec.Env[EnvWorkerNamespace] = spec.Namespace

	of := &offload{
		o:       o,
		evt:     evt,
		res:     res,
		spec:    spec,
		emitter: stream.NewEmitter(o.bus, evt).ExposeStacks(o.cfg.ExposeStack),
		done:    make(chan struct{}),
	}
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		offloadsTotal.WithLabelValues(outcome).Inc()
	}()
	return of.run(ctx, env)
}

func (of *offload) run(ctx context.Context, env *codec.Envelope) error {
	o := of.o
	ref := of.spec.Ref()

	// Everything the worker can send is subscribed to before it exists.
	ack, err := bus.PrepareFunc(o.bus, of.res, isKind(KindAck))
	if err != nil {
		return of.fail(callerr.Offload("cannot subscribe to handshake topic", err))
	}
	defer ack.Cancel()
	reply, err := bus.PrepareFunc(o.bus, of.res, isKind(KindReply))
	if err != nil {
		return of.fail(callerr.Offload("cannot subscribe to handshake topic", err))
	}
	defer reply.Cancel()
	watch, err := o.bus.On(of.evt, func(data []byte) {
		m, err := stream.Unmarshal(data)
		if err != nil || !m.Done || m.Worker == nil || *m.Worker != ref {
			return
		}
		of.doneOnce.Do(func() { close(of.done) })
	})
	if err != nil {
		return of.fail(callerr.Offload("cannot watch stream", err))
	}
	defer func() { _ = o.bus.Off(watch) }()

	slog.Info(fmt.Sprintf("%s - forking %s/%s for %s (res=%s)", offloaderLogPrefix, ref.Namespace, ref.Name, of.evt, of.res))
	start := time.Now()
	of.forked = true
	if err := o.orch.Fork(ctx, of.spec); err != nil {
		of.kill()
		return of.fail(callerr.Offload("worker fork failed", err))
	}
	workersRunning.Inc()
	of.counted = true
	var exited <-chan error
	if w, ok := o.orch.(ExitWatcher); ok {
		exited = w.Exited(ref)
	}

	ackCtx, cancel := context.WithTimeout(ctx, o.cfg.HandshakeTimeout)
	_, err = ack.Wait(ackCtx)
	cancel()
	if err != nil {
		of.kill()
		return of.fail(callerr.Offload(fmt.Sprintf("worker %s did not acknowledge within %s", ref.Name, o.cfg.HandshakeTimeout), err))
	}
	handshakeSeconds.Observe(time.Since(start).Seconds())

	call, key, err := of.callMessage(ctx, env)
	if err != nil {
		of.kill()
		return of.fail(err)
	}
	if key != "" {
		defer func() {
			if err := o.store.Del(context.WithoutCancel(ctx), key); err != nil {
				slog.Warn(fmt.Sprintf("%s - cannot delete handoff %s: %v", offloaderLogPrefix, key, err))
			}
		}()
	}
	if err := o.bus.Emit(of.res, call); err != nil {
		of.kill()
		return of.fail(callerr.Offload("cannot send call to worker", err))
	}

	replyCtx, cancel := context.WithTimeout(ctx, o.cfg.HandshakeTimeout)
	data, err := reply.Wait(replyCtx)
	cancel()
	if err != nil {
		of.kill()
		return of.fail(callerr.Offload(fmt.Sprintf("worker %s did not reply within %s", ref.Name, o.cfg.HandshakeTimeout), err))
	}
	h, err := unmarshalHandshake(data)
	if err != nil {
		of.kill()
		return of.fail(callerr.Offload("bad reply from worker", err))
	}
	if h.Err != nil {
		// The worker reports dispatch failures on evt itself when it can.
		remote := callerr.Remote(h.Err)
		select {
		case <-of.done:
			of.kill()
			return remote
		case <-time.After(replyGrace):
			of.kill()
			return of.fail(remote)
		}
	}

	var limit <-chan time.Time
	if o.cfg.MaxRuntime > 0 {
		timer := time.NewTimer(o.cfg.MaxRuntime)
		defer timer.Stop()
		limit = timer.C
	}
	select {
	case <-of.done:
		slog.Info(fmt.Sprintf("%s - worker %s finished %s", offloaderLogPrefix, ref.Name, of.evt))
		of.kill()
		return nil
	case <-limit:
		of.kill()
		return of.fail(callerr.Offload(fmt.Sprintf("worker %s exceeded %s", ref.Name, o.cfg.MaxRuntime), nil))
	case exitErr := <-exited:
		// The worker's done may still be in flight on the bus.
		select {
		case <-of.done:
			slog.Info(fmt.Sprintf("%s - worker %s finished %s", offloaderLogPrefix, ref.Name, of.evt))
			of.kill()
			return nil
		case <-time.After(replyGrace):
		}
		of.kill()
		return of.fail(callerr.Offload(fmt.Sprintf("worker %s exited before finishing", ref.Name), exitErr))
	case <-ctx.Done():
		of.kill()
		return of.fail(callerr.Offload("offload cancelled", ctx.Err()))
	}
}

// callMessage builds the call handshake, moving large frames to the store.
func (of *offload) callMessage(ctx context.Context, env *codec.Envelope) ([]byte, string, error) {
	o := of.o
	frame, err := codec.MarshalFrame(env)
	if err != nil {
		return nil, "", callerr.Codec(err)
	}
	h := &Handshake{Kind: KindCall, Frame: frame}
	key := ""
	if len(frame) > o.cfg.InlineLimit && o.store != nil {
		key = "handoff/" + of.res
		if err := o.store.Set(ctx, key, frame); err != nil {
			return nil, "", callerr.Offload("cannot store call frame", err)
		}
		slog.Debug(fmt.Sprintf("%s - frame of %d bytes stored as %s", offloaderLogPrefix, len(frame), key))
		h = &Handshake{Kind: KindCall, Ref: key}
	}
	data, err := marshalHandshake(h)
	if err != nil {
		return nil, "", callerr.Offload("cannot encode call", err)
	}
	return data, key, nil
}

// kill terminates the worker at most once.
func (of *offload) kill() {
	of.killOnce.Do(func() {
		if !of.forked {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
		defer cancel()
		ref := of.spec.Ref()
		if err := of.o.orch.Kill(ctx, ref); err != nil {
			slog.Warn(fmt.Sprintf("%s - cannot kill worker %s/%s: %v", offloaderLogPrefix, ref.Namespace, ref.Name, err))
		}
		if of.counted {
			workersRunning.Dec()
		}
	})
}

// fail reports err on the stream unless the worker already closed it.
func (of *offload) fail(err error) error {
	select {
	case <-of.done:
	default:
		slog.Error(fmt.Sprintf("%s - offload of %s failed: %v", offloaderLogPrefix, of.evt, err))
		if emitErr := of.emitter.Fail(err); emitErr != nil && !errors.Is(emitErr, stream.ErrClosed) {
			slog.Warn(fmt.Sprintf("%s - cannot report failure on %s: %v", offloaderLogPrefix, of.evt, emitErr))
		}
	}
	return err
}
