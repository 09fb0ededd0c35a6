package handler

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog maps names used in manifests to Go functions. Manifests can only
// bind leaves to functions registered here.
type Catalog struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{funcs: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous entry.
func (c *Catalog) Register(name string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = fn
}

// Lookup returns the function registered under name.
func (c *Catalog) Lookup(name string) (Func, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%s - no function registered as %q", logPrefix, name)
	}
	return fn, nil
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.funcs))
	for n := range c.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
