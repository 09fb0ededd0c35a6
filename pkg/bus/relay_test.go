package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*commsserver.Server, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("bus:relay_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("bus:relay_test - server failed to start")
	}

	return ns, func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}
}

func connect(t *testing.T, ns *commsserver.Server) *comms.Conn {
	t.Helper()
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("bus:relay_test - failed to connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestRelay_CrossConnection(t *testing.T) {
	ns, cleanup := startTestServer(t, 14250)
	defer cleanup()

	a := NewRelay(connect(t, ns))
	b := NewRelay(connect(t, ns))
	defer a.Close()
	defer b.Close()

	got := make(chan string, 4)
	if _, err := b.On("evt-1", func(data []byte) { got <- string(data) }); err != nil {
		t.Fatalf("bus:relay_test - on failed: %v", err)
	}

	for _, v := range []string{"one", "two", "three"} {
		if err := a.Emit("evt-1", []byte(v)); err != nil {
			t.Fatalf("bus:relay_test - emit failed: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("bus:relay_test - expected %s, got %s", want, v)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("bus:relay_test - timed out waiting for %s", want)
		}
	}
}

func TestRelay_JoinLeaveRefCount(t *testing.T) {
	ns, cleanup := startTestServer(t, 14251)
	defer cleanup()

	nc := connect(t, ns)
	r := NewRelay(nc)
	defer r.Close()

	s1, _ := r.On("t", func([]byte) {})
	s2, _ := r.On("t", func([]byte) {})
	if n := nc.NumSubscriptions(); n != 1 {
		t.Fatalf("bus:relay_test - expected one relay subscription, got %d", n)
	}

	_ = r.Off(s1)
	if n := nc.NumSubscriptions(); n != 1 {
		t.Errorf("bus:relay_test - expected subscription kept while s2 listens, got %d", n)
	}

	_ = r.Off(s2)
	if n := nc.NumSubscriptions(); n != 0 {
		t.Errorf("bus:relay_test - expected relay subscription dropped, got %d", n)
	}
}

func TestRelay_Next(t *testing.T) {
	ns, cleanup := startTestServer(t, 14252)
	defer cleanup()

	a := NewRelay(connect(t, ns))
	b := NewRelay(connect(t, ns))
	defer a.Close()
	defer b.Close()

	w, err := Prepare(b, "res-1")
	if err != nil {
		t.Fatalf("bus:relay_test - prepare failed: %v", err)
	}
	if err := a.Emit("res-1", []byte("ack")); err != nil {
		t.Fatalf("bus:relay_test - emit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("bus:relay_test - wait failed: %v", err)
	}
	if string(got) != "ack" {
		t.Errorf("bus:relay_test - expected ack, got %s", got)
	}
}

func TestRelay_Closed(t *testing.T) {
	ns, cleanup := startTestServer(t, 14253)
	defer cleanup()

	r := NewRelay(connect(t, ns))
	_ = r.Close()
	if _, err := r.On("t", func([]byte) {}); err != ErrClosed {
		t.Errorf("bus:relay_test - expected ErrClosed, got %v", err)
	}
	if err := r.Emit("t", nil); err != ErrClosed {
		t.Errorf("bus:relay_test - expected ErrClosed, got %v", err)
	}
}

func TestRelay_ConcurrentJoins(t *testing.T) {
	ns, cleanup := startTestServer(t, 14254)
	defer cleanup()

	a := NewRelay(connect(t, ns))
	b := NewRelay(connect(t, ns))
	defer a.Close()
	defer b.Close()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		// Pairs share a topic, so the later join waits for the first flush.
		topic := fmt.Sprintf("evt-%d", i/2)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got := make(chan string, 4)
			if _, err := b.On(topic, func(data []byte) { got <- string(data) }); err != nil {
				t.Errorf("bus:relay_test - on %s failed: %v", topic, err)
				return
			}
			// The join is visible as soon as On returns.
			want := fmt.Sprint(i)
			if err := a.Emit(topic, []byte(want)); err != nil {
				t.Errorf("bus:relay_test - emit failed: %v", err)
				return
			}
			timeout := time.After(5 * time.Second)
			for {
				select {
				case v := <-got:
					if v == want {
						return
					}
				case <-timeout:
					t.Errorf("bus:relay_test - %s never received %s", topic, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
