// Package bootstrap loads the namespace bootstrap file: which manifest
// backs each call prefix, which middlewares run, and how streaming calls
// are offloaded.
package bootstrap

import (
	"path/filepath"
	"sort"

	"github.com/morezero/streamcall/pkg/handler"
)

// NamespaceConfig binds one call prefix to its manifest.
type NamespaceConfig struct {
	Manifest    string `json:"manifest"`
	Description string `json:"description,omitempty"`
	// Watch overrides the process-wide hot reload setting when set.
	Watch *bool `json:"watch,omitempty"`
}

// OffloadConfig describes the workers streaming calls are sent to.
type OffloadConfig struct {
	Enabled   bool              `json:"enabled"`
	Namespace string            `json:"namespace,omitempty"`
	Image     string            `json:"image,omitempty"`
	Command   []string          `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	// MaxRuntime is a Go duration string, e.g. "10m".
	MaxRuntime string `json:"maxRuntime,omitempty"`
}

// ChangeEventTopics names the bus topics reload notifications go to.
type ChangeEventTopics struct {
	Global string `json:"global"`
}

// BootstrapConfig is the root bootstrap configuration.
type BootstrapConfig struct {
	Name        string                     `json:"name"`
	Version     string                     `json:"version"`
	Description string                     `json:"description,omitempty"`
	Namespaces  map[string]NamespaceConfig `json:"namespaces"`
	// Aliases map an extra prefix onto a configured one.
	Aliases      map[string]string `json:"aliases,omitempty"`
	Middlewares  []string          `json:"middlewares,omitempty"`
	Offload      *OffloadConfig    `json:"offload,omitempty"`
	ChangeEvents ChangeEventTopics `json:"changeEventTopics"`

	// dir is the directory of the file the config was read from.
	dir string
}

// Dir returns the directory relative manifest paths are resolved against.
func (c *BootstrapConfig) Dir() string {
	return c.dir
}

// ResolvedBootstrap provides lookups over a loaded configuration.
type ResolvedBootstrap struct {
	name         string
	version      string
	namespaces   map[string]*NamespaceConfig
	aliases      map[string]string
	middlewares  []string
	offload      *OffloadConfig
	changeEvents ChangeEventTopics
}

// Get returns a namespace by prefix or alias.
func (rb *ResolvedBootstrap) Get(prefix string) *NamespaceConfig {
	if ns, ok := rb.namespaces[prefix]; ok {
		return ns
	}
	if target, ok := rb.aliases[prefix]; ok {
		return rb.namespaces[target]
	}
	return nil
}

// ResolveAlias maps an alias to its prefix. Other prefixes are returned unchanged.
func (rb *ResolvedBootstrap) ResolveAlias(prefix string) string {
	if target, ok := rb.aliases[prefix]; ok {
		return target
	}
	return prefix
}

// Prefixes returns the configured prefixes in sorted order.
func (rb *ResolvedBootstrap) Prefixes() []string {
	out := make([]string, 0, len(rb.namespaces))
	for p := range rb.namespaces {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Watching reports whether prefix is hot reloaded, given the process default.
func (rb *ResolvedBootstrap) Watching(prefix string, def bool) bool {
	ns := rb.Get(prefix)
	if ns == nil || ns.Watch == nil {
		return def
	}
	return *ns.Watch
}

// Middlewares returns the middleware names in chain order.
func (rb *ResolvedBootstrap) Middlewares() []string { return rb.middlewares }

// Offload returns the offload settings, nil when not configured.
func (rb *ResolvedBootstrap) Offload() *OffloadConfig { return rb.offload }

// GlobalChangeTopic returns the bus topic for all reload notifications.
func (rb *ResolvedBootstrap) GlobalChangeTopic() string { return rb.changeEvents.Global }

// Name returns the bootstrap config name.
func (rb *ResolvedBootstrap) Name() string { return rb.name }

// Version returns the bootstrap config version.
func (rb *ResolvedBootstrap) Version() string { return rb.version }

// Getter returns the tree of a loaded prefix.
type Getter interface {
	Get(prefix string) (*handler.Node, bool)
}

// aliasGetter resolves aliases before asking the registry.
type aliasGetter struct {
	rb   *ResolvedBootstrap
	next Getter
}

func (a aliasGetter) Get(prefix string) (*handler.Node, bool) {
	return a.next.Get(a.rb.ResolveAlias(prefix))
}

// WithAliases wraps g so calls may use any configured alias as prefix.
func (rb *ResolvedBootstrap) WithAliases(g Getter) Getter {
	if len(rb.aliases) == 0 {
		return g
	}
	return aliasGetter{rb: rb, next: g}
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}
