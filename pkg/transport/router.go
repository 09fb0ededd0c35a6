// Package transport exposes the dispatcher over HTTP: calls on /rpc, stream
// delivery as server-sent events on /sse, and registry introspection.
package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/morezero/streamcall/pkg/bus"
	"github.com/morezero/streamcall/pkg/dispatcher"
	"github.com/morezero/streamcall/pkg/middleware"
	"github.com/morezero/streamcall/pkg/registry"
)

const logPrefix = "transport:router"

// Multipart field names of a call carrying blobs.
const (
	FieldMeta  = "meta"
	FieldBlobs = "blobs[]"
)

// Dispatcher runs one call.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatcher.Request) *dispatcher.Response
}

// Registry answers introspection requests.
type Registry interface {
	Describe(prefix string) (*registry.DescribeOutput, error)
	Health() *registry.HealthOutput
}

// Config holds transport configuration.
type Config struct {
	// RequestTimeout bounds unary calls.
	RequestTimeout time.Duration
	// MaxBodyBytes bounds call bodies, blobs included.
	MaxBodyBytes int64
	// Retry is the reconnect delay announced to SSE clients.
	Retry time.Duration
	// KeepAlive is the interval of SSE comment lines on idle streams.
	KeepAlive time.Duration
	// WatchTopic carries reload notifications relayed on GET /sse.
	WatchTopic string
	// CancelOnDisconnect cancels a stream whose SSE client went away
	// before done.
	CancelOnDisconnect bool
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     25 * time.Second,
		MaxBodyBytes:       32 << 20,
		Retry:              10 * time.Second,
		KeepAlive:          15 * time.Second,
		WatchTopic:         "watch",
		CancelOnDisconnect: true,
	}
}

// NewHandlerParams holds parameters for NewHandler.
type NewHandlerParams struct {
	Dispatcher Dispatcher
	Registry   Registry
	Bus        bus.Bus
	// Ready reports whether the process accepts calls. Nil means always.
	Ready  func() bool
	Config Config
}

type server struct {
	dispatcher Dispatcher
	registry   Registry
	bus        bus.Bus
	ready      func() bool
	cfg        Config
}

// NewHandler builds the HTTP surface.
func NewHandler(params NewHandlerParams) http.Handler {
	cfg := params.Config
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Retry <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.WatchTopic == "" {
		cfg.WatchTopic = def.WatchTopic
	}
	s := &server{
		dispatcher: params.Dispatcher,
		registry:   params.Registry,
		bus:        params.Bus,
		ready:      params.Ready,
		cfg:        cfg,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(middleware.Collect(routeLabel))

	r.Post("/rpc", s.handleRPC)
	r.Post("/rpc/*", s.handleRPC)
	r.Get("/sse", s.handleWatch)
	r.Get("/sse/{evt}", s.handleSSE)
	r.Post("/sse/{evt}/cancel", s.handleCancel)
	r.Get("/describe", s.handleDescribe)
	r.Get("/describe/{prefix}", s.handleDescribe)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", middleware.Handler())
	return r
}

// routeLabel keeps the metrics label to the route pattern.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	p := r.URL.Path
	if i := strings.Index(p[min(1, len(p)):], "/"); i >= 0 {
		return p[:i+1]
	}
	return p
}
