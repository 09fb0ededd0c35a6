package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/callerr"
)

func TestEmitterConsumer_Order(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()
	evt := NewEvt()

	c, err := Subscribe(b, evt)
	if err != nil {
		t.Fatalf("stream:stream_test - subscribe failed: %v", err)
	}
	e := NewEmitter(b, evt)
	for _, v := range []any{"a", float64(1), []byte("z")} {
		if err := e.Value(v); err != nil {
			t.Fatalf("stream:stream_test - emit failed: %v", err)
		}
	}
	if err := e.Done(); err != nil {
		t.Fatalf("stream:stream_test - done failed: %v", err)
	}

	ctx := context.Background()
	v1, _ := c.Next(ctx)
	v2, _ := c.Next(ctx)
	v3, _ := c.Next(ctx)
	if v1 != "a" || v2 != float64(1) || string(v3.([]byte)) != "z" {
		t.Errorf("stream:stream_test - unexpected values %v %v %v", v1, v2, v3)
	}
	if _, err := c.Next(ctx); !errors.Is(err, ErrDone) {
		t.Errorf("stream:stream_test - expected ErrDone, got %v", err)
	}
	if _, err := c.Next(ctx); !errors.Is(err, ErrDone) {
		t.Errorf("stream:stream_test - expected ErrDone after done, got %v", err)
	}
	if b.Subscribers(evt) != 0 {
		t.Errorf("stream:stream_test - consumer should unsubscribe after done")
	}
}

func TestEmitter_SingleTerminal(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	dones := 0
	_, _ = b.On("e1", func(data []byte) {
		m, _ := Unmarshal(data)
		if m.Done {
			dones++
		}
	})

	e := NewEmitter(b, "e1")
	_ = e.Done()
	if err := e.Done(); !errors.Is(err, ErrClosed) {
		t.Errorf("stream:stream_test - expected ErrClosed, got %v", err)
	}
	if err := e.Value("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("stream:stream_test - expected ErrClosed for late value, got %v", err)
	}
	if err := e.Fail(errors.New("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("stream:stream_test - expected ErrClosed for late fail, got %v", err)
	}
	if dones != 1 {
		t.Errorf("stream:stream_test - expected exactly one done, got %d", dones)
	}
	if !e.Closed() {
		t.Error("stream:stream_test - expected emitter closed")
	}
}

func TestEmitter_FailIsErrorThenDone(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	c, _ := Subscribe(b, "e2")
	e := NewEmitter(b, "e2").WithWorker(&WorkerRef{Name: "pip-e2", Namespace: "default"})
	_ = e.Fail(callerr.Resolution("no handler at x"))

	ctx := context.Background()
	_, err := c.Next(ctx)
	var remote *callerr.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("stream:stream_test - expected remote error, got %v", err)
	}
	if remote.Detail.Code != callerr.CodeResolution {
		t.Errorf("stream:stream_test - expected resolution code, got %s", remote.Detail.Code)
	}
	if _, err := c.Next(ctx); !errors.Is(err, ErrDone) {
		t.Errorf("stream:stream_test - expected ErrDone, got %v", err)
	}
	term := c.Terminal()
	if term == nil || term.Worker == nil || term.Worker.Name != "pip-e2" {
		t.Errorf("stream:stream_test - expected worker ref on done, got %+v", term)
	}
}

// flakyBus fails the first n emits.
type flakyBus struct {
	bus.Bus
	n int
}

func (f *flakyBus) Emit(topic string, data []byte) error {
	if f.n > 0 {
		f.n--
		return errors.New("transport down")
	}
	return f.Bus.Emit(topic, data)
}

func TestEmitter_FailClosesAfterErrorEmitFails(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	c, _ := Subscribe(b, "e6")
	e := NewEmitter(&flakyBus{Bus: b, n: 1}, "e6")
	if err := e.Fail(errors.New("boom")); err == nil || !strings.Contains(err.Error(), "transport down") {
		t.Errorf("stream:stream_test - expected the emit failure returned, got %v", err)
	}
	if !e.Closed() {
		t.Error("stream:stream_test - expected emitter closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Next(ctx); !errors.Is(err, ErrDone) {
		t.Errorf("stream:stream_test - expected done despite the lost error, got %v", err)
	}
}

func TestEmitter_CodecFailureEmitsNothing(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	got := 0
	_, _ = b.On("e3", func([]byte) { got++ })
	err := NewEmitter(b, "e3").Value(make(chan int))
	if !callerr.HasCode(err, callerr.CodeCodec) {
		t.Errorf("stream:stream_test - expected codec error, got %v", err)
	}
	if got != 0 {
		t.Errorf("stream:stream_test - expected nothing emitted, got %d", got)
	}
}

func TestConsumer_Cancel(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	cancelled := make(chan struct{}, 1)
	_, _ = b.On(CancelTopic("e4"), func([]byte) { cancelled <- struct{}{} })

	c, _ := Subscribe(b, "e4")
	if err := c.Cancel(); err != nil {
		t.Fatalf("stream:stream_test - cancel failed: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("stream:stream_test - cancel not delivered")
	}

	_ = NewEmitter(b, "e4").Cancelled()
	m, err := c.Message(context.Background())
	if err != nil || !m.Done || !m.Cancelled {
		t.Errorf("stream:stream_test - expected cancelled done, got %+v %v", m, err)
	}
}

func TestQueue_WaitsForPush(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(&Message{Done: true})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := q.Pop(ctx)
	if err != nil || !m.Done {
		t.Fatalf("stream:stream_test - expected done, got %+v %v", m, err)
	}
}

func TestQueue_ContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("stream:stream_test - expected deadline, got %v", err)
	}
}

func TestConsumer_DropsMalformed(t *testing.T) {
	b := bus.NewLocal()
	defer b.Close()

	c, _ := Subscribe(b, "e5")
	_ = b.Emit("e5", []byte("not json"))
	_ = NewEmitter(b, "e5").Done()

	if _, err := c.Next(context.Background()); !errors.Is(err, ErrDone) {
		t.Errorf("stream:stream_test - expected malformed message skipped, got %v", err)
	}
}

func TestCancelTopic(t *testing.T) {
	if CancelTopic("abc") != "cancel.abc" {
		t.Errorf("stream:stream_test - unexpected cancel topic %s", CancelTopic("abc"))
	}
	if NewEvt() == NewEvt() {
		t.Error("stream:stream_test - tokens must be unique")
	}
}
