package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocal_EmitOrder(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := b.On("t", func(data []byte) { got = append(got, name+string(data)) }); err != nil {
			t.Fatalf("bus:local_test - on failed: %v", err)
		}
	}

	if err := b.Emit("t", []byte("1")); err != nil {
		t.Fatalf("bus:local_test - emit failed: %v", err)
	}
	if err := b.Emit("t", []byte("2")); err != nil {
		t.Fatalf("bus:local_test - emit failed: %v", err)
	}

	want := []string{"a1", "b1", "c1", "a2", "b2", "c2"}
	if len(got) != len(want) {
		t.Fatalf("bus:local_test - expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bus:local_test - position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLocal_Off(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	calls := 0
	sub, _ := b.On("t", func([]byte) { calls++ })
	_ = b.Emit("t", nil)
	if err := b.Off(sub); err != nil {
		t.Fatalf("bus:local_test - off failed: %v", err)
	}
	if err := b.Off(sub); err != nil {
		t.Fatalf("bus:local_test - second off failed: %v", err)
	}
	_ = b.Emit("t", nil)

	if calls != 1 {
		t.Errorf("bus:local_test - expected 1 call, got %d", calls)
	}
	if n := b.Subscribers("t"); n != 0 {
		t.Errorf("bus:local_test - expected no subscribers, got %d", n)
	}
}

func TestLocal_OffDuringDelivery(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var second int
	var first *Subscription
	first, _ = b.On("t", func([]byte) { _ = b.Off(first) })
	_, _ = b.On("t", func([]byte) { second++ })

	_ = b.Emit("t", nil)
	_ = b.Emit("t", nil)

	if second != 2 {
		t.Errorf("bus:local_test - expected second handler twice, got %d", second)
	}
	if n := b.Subscribers("t"); n != 1 {
		t.Errorf("bus:local_test - expected 1 subscriber, got %d", n)
	}
}

func TestLocal_Next(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var err error
	go func() {
		defer wg.Done()
		got, err = b.Next(context.Background(), "t")
	}()

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers("t") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bus:local_test - next never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	_ = b.Emit("t", []byte("first"))
	_ = b.Emit("t", []byte("second"))
	wg.Wait()

	if err != nil {
		t.Fatalf("bus:local_test - next failed: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("bus:local_test - expected first, got %s", got)
	}
	if n := b.Subscribers("t"); n != 0 {
		t.Errorf("bus:local_test - next should unsubscribe, %d left", n)
	}
}

func TestPrepare_NoLostWakeup(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	w, err := Prepare(b, "reply")
	if err != nil {
		t.Fatalf("bus:local_test - prepare failed: %v", err)
	}
	_ = b.Emit("reply", []byte("ok"))

	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("bus:local_test - wait failed: %v", err)
	}
	if string(got) != "ok" {
		t.Errorf("bus:local_test - expected ok, got %s", got)
	}
}

func TestPrepareFunc_Match(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	w, _ := PrepareFunc(b, "t", func(data []byte) bool { return string(data) == "mine" })
	_ = b.Emit("t", []byte("other"))
	_ = b.Emit("t", []byte("mine"))

	got, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("bus:local_test - wait failed: %v", err)
	}
	if string(got) != "mine" {
		t.Errorf("bus:local_test - expected mine, got %s", got)
	}
}

func TestWaiter_Timeout(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	w, _ := Prepare(b, "t")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("bus:local_test - expected deadline exceeded, got %v", err)
	}
	if n := b.Subscribers("t"); n != 0 {
		t.Errorf("bus:local_test - waiter should unsubscribe on timeout, %d left", n)
	}
}

func TestLocal_Closed(t *testing.T) {
	b := NewLocal()
	_ = b.Close()

	if _, err := b.On("t", func([]byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("bus:local_test - expected ErrClosed from On, got %v", err)
	}
	if err := b.Emit("t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("bus:local_test - expected ErrClosed from Emit, got %v", err)
	}
}

func TestLocal_InvalidTopic(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	if _, err := b.On("", func([]byte) {}); err == nil {
		t.Error("bus:local_test - expected error for empty topic")
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		url     string
		local   bool
		wantErr bool
	}{
		{"", true, false},
		{"local://", true, false},
		{"ftp://x", false, true},
	}
	for _, tt := range tests {
		b, err := Open(tt.url, "test")
		if tt.wantErr {
			if err == nil {
				t.Errorf("bus:local_test - Open(%q) expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Fatalf("bus:local_test - Open(%q) failed: %v", tt.url, err)
		}
		if _, ok := b.(*Local); ok != tt.local {
			t.Errorf("bus:local_test - Open(%q) local=%v", tt.url, ok)
		}
		_ = b.Close()
	}
}
