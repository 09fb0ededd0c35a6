// Package registry holds the live handler trees of every namespace. Trees
// are immutable snapshots swapped atomically on reload, so calls already
// resolved against an old tree finish on it while new calls see the new one.
package registry

import (
	"time"

	"github.com/morezero/streamcall/pkg/handler"
)

// Error codes returned by the registry.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeLoadFailed = "REGISTRY_LOAD_FAILED"
	CodeInvalid    = "INVALID_ARGUMENT"
)

// Snapshot is one successfully loaded version of a namespace.
type Snapshot struct {
	Prefix   string
	Location string
	Tree     *handler.Node
	Version  string
	Seq      uint64
	Files    []string
	LoadedAt time.Time
}

// Build is what a Loader produces from a location.
type Build struct {
	Tree    *handler.Node
	Version string
	// Files lists every file read, for the watcher.
	Files []string
}

// DescribeOutput lists the callable paths of a namespace.
type DescribeOutput struct {
	Prefix   string       `json:"prefix"`
	Version  string       `json:"version,omitempty"`
	Seq      uint64       `json:"seq"`
	LoadedAt string       `json:"loadedAt"`
	Methods  []MethodInfo `json:"methods"`
}

// MethodInfo describes one leaf.
type MethodInfo struct {
	Path   string         `json:"path"`
	Kind   string         `json:"kind"`
	Func   string         `json:"func,omitempty"`
	Exec   []string       `json:"exec,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// HealthOutput holds the result of the health check.
type HealthOutput struct {
	Status     string            `json:"status"`
	Namespaces []NamespaceHealth `json:"namespaces"`
	Timestamp  string            `json:"timestamp"`
}

// NamespaceHealth reports the state of one namespace.
type NamespaceHealth struct {
	Prefix    string `json:"prefix"`
	Version   string `json:"version,omitempty"`
	Seq       uint64 `json:"seq"`
	Handlers  int    `json:"handlers"`
	LoadedAt  string `json:"loadedAt"`
	LastError string `json:"lastError,omitempty"`
}

// RegistryError is a structured error from the registry.
type RegistryError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e *RegistryError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *RegistryError) Unwrap() error { return e.cause }

// NewRegistryError creates a new RegistryError.
func NewRegistryError(code, message string) *RegistryError {
	return &RegistryError{Code: code, Message: message}
}
