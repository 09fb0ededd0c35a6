package handler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is wrapped by Resolve when a path names no leaf.
var ErrNotFound = errors.New("handler: not found")

// Kind tells how a leaf runs.
type Kind int

const (
	KindFunc Kind = iota
	KindExec
)

func (k Kind) String() string {
	switch k {
	case KindFunc:
		return "func"
	case KindExec:
		return "exec"
	}
	return "unknown"
}

// Leaf is a callable entry of a tree.
type Leaf struct {
	Name string
	Kind Kind
	// FuncName is the catalog name a KindFunc leaf was bound from.
	FuncName string
	Func     Func
	// Exec is the argv of a KindExec leaf, run in Dir.
	Exec   []string
	Dir    string
	Params map[string]any
}

// Invoke runs the leaf.
func (l *Leaf) Invoke(c *Call) (any, error) {
	switch l.Kind {
	case KindFunc:
		if l.Func == nil {
			return nil, fmt.Errorf("%s - leaf %s has no function bound", logPrefix, l.Name)
		}
		return l.Func(c)
	case KindExec:
		return execStream(c, l), nil
	}
	return nil, fmt.Errorf("%s - leaf %s has unknown kind %d", logPrefix, l.Name, l.Kind)
}

// entry is the tagged variant stored under a node key: exactly one of leaf
// and node is set.
type entry struct {
	leaf *Leaf
	node *Node
}

// Node is an interior tree node. Trees are built once by a loader and are
// read-only afterwards, so they can be shared between goroutines.
type Node struct {
	children map[string]entry
}

// NewNode creates an empty node.
func NewNode() *Node {
	return &Node{children: make(map[string]entry)}
}

// Set places leaf at path, creating interior nodes as needed. It fails when
// the path crosses an existing leaf or lands on an existing entry.
func (n *Node) Set(path []string, leaf *Leaf) error {
	if len(path) == 0 {
		return fmt.Errorf("%s - empty path", logPrefix)
	}
	cur := n
	for i, key := range path {
		if key == "" {
			return fmt.Errorf("%s - empty segment in %s", logPrefix, strings.Join(path, "."))
		}
		e, exists := cur.children[key]
		if i == len(path)-1 {
			if exists {
				return fmt.Errorf("%s - %s is already defined", logPrefix, strings.Join(path, "."))
			}
			if leaf.Name == "" {
				leaf.Name = strings.Join(path, ".")
			}
			cur.children[key] = entry{leaf: leaf}
			return nil
		}
		if exists && e.leaf != nil {
			return fmt.Errorf("%s - %s is a leaf, cannot nest under it", logPrefix, strings.Join(path[:i+1], "."))
		}
		if !exists {
			e = entry{node: NewNode()}
			cur.children[key] = e
		}
		cur = e.node
	}
	return nil
}

// Resolve walks path and returns the leaf at its end together with the node
// holding it.
func (n *Node) Resolve(path []string) (*Leaf, *Node, error) {
	if len(path) == 0 {
		return nil, nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}
	cur := n
	for i, key := range path {
		e, ok := cur.children[key]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(path[:i+1], "."))
		}
		if i == len(path)-1 {
			if e.leaf == nil {
				return nil, nil, fmt.Errorf("%w: %s is not callable", ErrNotFound, strings.Join(path, "."))
			}
			return e.leaf, cur, nil
		}
		if e.node == nil {
			return nil, nil, fmt.Errorf("%w: %s is a leaf", ErrNotFound, strings.Join(path[:i+1], "."))
		}
		cur = e.node
	}
	return nil, nil, ErrNotFound
}

// Walk visits every leaf in lexical path order.
func (n *Node) Walk(fn func(path []string, leaf *Leaf)) {
	n.walk(nil, fn)
}

func (n *Node) walk(prefix []string, fn func([]string, *Leaf)) {
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := append(append([]string(nil), prefix...), k)
		e := n.children[k]
		if e.leaf != nil {
			fn(p, e.leaf)
			continue
		}
		e.node.walk(p, fn)
	}
}

// Len returns the number of leaves under n.
func (n *Node) Len() int {
	count := 0
	n.Walk(func([]string, *Leaf) { count++ })
	return count
}
