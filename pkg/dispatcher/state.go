package dispatcher

import (
	"sync"
	"time"
)

// State is the lifecycle position of one stream token.
type State int

const (
	StatePending State = iota
	StateResolving
	StateStreaming
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the stream has emitted its done message.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// callTable tracks stream tokens. Finished tokens are remembered for the
// retention period so reusing one is rejected.
type callTable struct {
	mu        sync.Mutex
	entries   map[string]State
	retention time.Duration
}

func newCallTable(retention time.Duration) *callTable {
	return &callTable{entries: make(map[string]State), retention: retention}
}

// open claims evt. It returns false when the token is known.
func (t *callTable) open(evt string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[evt]; ok {
		return false
	}
	t.entries[evt] = StatePending
	return true
}

func (t *callTable) set(evt string, s State) {
	t.mu.Lock()
	t.entries[evt] = s
	t.mu.Unlock()
}

// finish records the terminal state and forgets the token after retention.
func (t *callTable) finish(evt string, s State) {
	t.set(evt, s)
	time.AfterFunc(t.retention, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.entries[evt]; ok && cur.Terminal() {
			delete(t.entries, evt)
		}
	})
}

func (t *callTable) get(evt string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.entries[evt]
	return s, ok
}

func (t *callTable) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.entries {
		if !s.Terminal() {
			n++
		}
	}
	return n
}
