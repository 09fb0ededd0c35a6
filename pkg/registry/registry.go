package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/streamcall/pkg/events"
	"github.com/morezero/streamcall/pkg/handler"
)

const logPrefix = "registry:registry"

const defaultDebounce = 100 * time.Millisecond

// Config holds registry configuration.
type Config struct {
	// Debounce is the quiet period the watcher waits for before reloading.
	Debounce time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{Debounce: defaultDebounce}
}

// Registry maps namespace prefixes to their current snapshot.
type Registry struct {
	loader    Loader
	publisher events.EventPublisher
	config    Config

	mu         sync.RWMutex
	namespaces map[string]*namespace
	seq        atomic.Uint64
}

type namespace struct {
	prefix   string
	location string
	current  atomic.Pointer[Snapshot]

	// reload serializes loads of this namespace.
	reload sync.Mutex

	errMu     sync.Mutex
	lastError string
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Loader    Loader
	Publisher events.EventPublisher
	Config    Config
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) *Registry {
	cfg := params.Config
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	return &Registry{
		loader:     params.Loader,
		publisher:  pub,
		config:     cfg,
		namespaces: make(map[string]*namespace),
	}
}

// Load reads location and installs it as namespace prefix. A failed first
// load leaves the registry unchanged. Loading an existing prefix replaces its
// location and reloads it.
func (r *Registry) Load(ctx context.Context, prefix, location string) (*handler.Node, error) {
	if r.loader == nil {
		return nil, &RegistryError{Code: CodeInvalid, Message: "no loader configured"}
	}

	r.mu.Lock()
	ns, ok := r.namespaces[prefix]
	if !ok {
		ns = &namespace{prefix: prefix, location: location}
	}
	r.mu.Unlock()

	ns.reload.Lock()
	ns.location = location
	snap, err := r.loadLocked(ctx, ns)
	ns.reload.Unlock()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.namespaces[prefix]; !exists {
		r.namespaces[prefix] = ns
	}
	r.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Loaded namespace %q from %s: version=%s handlers=%d seq=%d",
		logPrefix, prefix, location, snap.Version, snap.Tree.Len(), snap.Seq))
	return snap.Tree, nil
}

// Reload re-reads a namespace. On failure the previous snapshot stays active
// and a failed event is published.
func (r *Registry) Reload(ctx context.Context, prefix string) (*Snapshot, error) {
	ns, err := r.lookup(prefix)
	if err != nil {
		return nil, err
	}
	_, snap, err := r.reloadNamespace(ctx, ns)
	return snap, err
}

func (r *Registry) reloadNamespace(ctx context.Context, ns *namespace) (*events.ReloadEvent, *Snapshot, error) {
	ns.reload.Lock()
	snap, err := r.loadLocked(ctx, ns)
	ns.reload.Unlock()

	ev := &events.ReloadEvent{
		Reload:    true,
		Prefix:    ns.prefix,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		prev := ns.current.Load()
		ev.Outcome = events.OutcomeFailed
		ev.Error = err.Error()
		if prev != nil {
			ev.Version, ev.Seq, ev.Files, ev.Handlers = prev.Version, prev.Seq, prev.Files, prev.Tree.Len()
		}
		slog.Error(fmt.Sprintf("%s - reload of %q failed, keeping seq=%d: %v", logPrefix, ns.prefix, ev.Seq, err))
	} else {
		ev.Outcome = events.OutcomeReloaded
		ev.Version, ev.Seq, ev.Files, ev.Handlers = snap.Version, snap.Seq, snap.Files, snap.Tree.Len()
		slog.Info(fmt.Sprintf("%s - Reloaded namespace %q: version=%s handlers=%d seq=%d", logPrefix, ns.prefix, snap.Version, ev.Handlers, snap.Seq))
	}

	if perr := r.publisher.PublishReload(ctx, ev); perr != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish reload event: %v", logPrefix, perr))
	}
	return ev, snap, err
}

// loadLocked runs the loader and swaps the snapshot in. ns.reload must be held.
func (r *Registry) loadLocked(ctx context.Context, ns *namespace) (*Snapshot, error) {
	build, err := r.loader.Load(ctx, ns.location)
	if err == nil && (build == nil || build.Tree == nil) {
		err = errors.New("loader returned no tree")
	}
	if err != nil {
		ns.setError(err.Error())
		reloadsTotal.WithLabelValues(ns.prefix, "failed").Inc()
		return nil, &RegistryError{Code: CodeLoadFailed, Message: err.Error(), cause: err}
	}

	snap := &Snapshot{
		Prefix:   ns.prefix,
		Location: ns.location,
		Tree:     build.Tree,
		Version:  build.Version,
		Seq:      r.seq.Add(1),
		Files:    build.Files,
		LoadedAt: time.Now().UTC(),
	}
	ns.current.Store(snap)
	ns.setError("")
	reloadsTotal.WithLabelValues(ns.prefix, "loaded").Inc()
	handlersGauge.WithLabelValues(ns.prefix).Set(float64(snap.Tree.Len()))
	return snap, nil
}

// Get returns the current tree of prefix.
func (r *Registry) Get(prefix string) (*handler.Node, bool) {
	snap := r.Snapshot(prefix)
	if snap == nil {
		return nil, false
	}
	return snap.Tree, true
}

// Snapshot returns the current snapshot of prefix, or nil.
func (r *Registry) Snapshot(prefix string) *Snapshot {
	r.mu.RLock()
	ns, ok := r.namespaces[prefix]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ns.current.Load()
}

// Prefixes lists loaded namespaces, sorted.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.namespaces))
	for p := range r.namespaces {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(prefix string) (*namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[prefix]
	if !ok {
		return nil, &RegistryError{Code: CodeNotFound, Message: fmt.Sprintf("namespace %q is not loaded", prefix)}
	}
	return ns, nil
}

func (ns *namespace) setError(msg string) {
	ns.errMu.Lock()
	ns.lastError = msg
	ns.errMu.Unlock()
}

func (ns *namespace) getError() string {
	ns.errMu.Lock()
	defer ns.errMu.Unlock()
	return ns.lastError
}
