package offload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/codec"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/store"
)

const workerLogPrefix = "offload:worker"

// NewWorkerParams holds parameters for NewWorker.
type NewWorkerParams struct {
	Bus bus.Bus
	// Dispatcher runs the call. It should stamp done messages with this
	// worker's ref and must not offload again.
	Dispatcher *dispatcher.Dispatcher
	Store      store.Store
	// HandshakeTimeout bounds the wait for the call after the ack.
	HandshakeTimeout time.Duration
	ExposeStack      bool
}

// Worker is the forked side of an offload.
type Worker struct {
	bus         bus.Bus
	dispatcher  *dispatcher.Dispatcher
	store       store.Store
	timeout     time.Duration
	exposeStack bool
}

// NewWorker creates a new Worker.
func NewWorker(params NewWorkerParams) *Worker {
	timeout := params.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Worker{
		bus:         params.Bus,
		dispatcher:  params.Dispatcher,
		store:       params.Store,
		timeout:     timeout,
		exposeStack: params.ExposeStack,
	}
}

// Run acknowledges on res, receives one call, dispatches it and waits for
// its stream to finish.
func (w *Worker) Run(ctx context.Context, res string) error {
	call, err := bus.PrepareFunc(w.bus, res, isKind(KindCall))
	if err != nil {
		return fmt.Errorf("%s - subscribe %s: %w", workerLogPrefix, res, err)
	}
	defer call.Cancel()

	if err := w.send(res, &Handshake{Kind: KindAck}); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - acknowledged on %s", workerLogPrefix, res))

	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	data, err := call.Wait(waitCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%s - no call received on %s: %w", workerLogPrefix, res, err)
	}

	env, err := w.envelope(ctx, data)
	if err != nil {
		_ = w.send(res, &Handshake{Kind: KindReply, Err: callerr.Detail(err, w.exposeStack)})
		return fmt.Errorf("%s - bad call: %w", workerLogPrefix, err)
	}

	resp := w.dispatcher.Dispatch(ctx, &dispatcher.Request{Envelope: env})
	if err := w.send(res, &Handshake{Kind: KindReply, Err: resp.Err}); err != nil {
		return err
	}
	if resp.Err != nil {
		return fmt.Errorf("%s - dispatch failed: %w", workerLogPrefix, callerr.Remote(resp.Err))
	}

	if err := w.dispatcher.Wait(ctx); err != nil {
		return fmt.Errorf("%s - stream did not finish: %w", workerLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - stream %s finished", workerLogPrefix, resp.Evt))
	return nil
}

func (w *Worker) envelope(ctx context.Context, data []byte) (*codec.Envelope, error) {
	h, err := unmarshalHandshake(data)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	frame := h.Frame
	if h.Ref != "" {
		if w.store == nil {
			return nil, callerr.Offload("call frame is in a store but none is configured", nil)
		}
		frame, err = w.store.Get(ctx, h.Ref)
		if err != nil {
			return nil, callerr.Offload("cannot fetch call frame "+h.Ref, err)
		}
	}
	env, err := codec.UnmarshalFrame(frame)
	if err != nil {
		return nil, callerr.Codec(err)
	}
	return env, nil
}

func (w *Worker) send(res string, h *Handshake) error {
	data, err := marshalHandshake(h)
	if err != nil {
		return err
	}
	if err := w.bus.Emit(res, data); err != nil {
		return fmt.Errorf("%s - emit %s on %s: %w", workerLogPrefix, h.Kind, res, err)
	}
	return nil
}
