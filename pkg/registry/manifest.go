package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/morezero/streamcall/pkg/handler"
	"github.com/morezero/streamcall/pkg/semver"
)

const manifestLogPrefix = "registry:manifest"

// Manifest is one TOML manifest file.
//
//	version = "1.2.0"
//	api = "^1"
//	include = ["common.toml@^1"]
//
//	[[handler]]
//	path = "hello"
//	func = "sys.hello"
//
//	[[handler]]
//	path = "report.lines"
//	exec = ["./report.sh"]
type Manifest struct {
	Version  string        `toml:"version"`
	API      string        `toml:"api"`
	Include  []string      `toml:"include"`
	Handlers []HandlerSpec `toml:"handler"`
}

// HandlerSpec binds one path to a catalog function or a command.
type HandlerSpec struct {
	Path   string         `toml:"path"`
	Func   string         `toml:"func"`
	Exec   []string       `toml:"exec"`
	Dir    string         `toml:"dir"`
	Params map[string]any `toml:"params"`
}

// Validate checks the manifest in isolation.
func (m *Manifest) Validate() error {
	if m.Version != "" {
		if _, err := semver.ParseVersion(m.Version); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(m.Handlers))
	for i, h := range m.Handlers {
		if h.Path == "" {
			return fmt.Errorf("%s - handler #%d has no path", manifestLogPrefix, i)
		}
		if seen[h.Path] {
			return fmt.Errorf("%s - handler %s declared twice", manifestLogPrefix, h.Path)
		}
		seen[h.Path] = true
		if (h.Func == "") == (len(h.Exec) == 0) {
			return fmt.Errorf("%s - handler %s needs exactly one of func or exec", manifestLogPrefix, h.Path)
		}
	}
	return nil
}

// ParseManifest decodes TOML, rejecting unknown keys.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%s - invalid manifest: %w", manifestLogPrefix, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Loader turns a location into a handler tree.
type Loader interface {
	Load(ctx context.Context, location string) (*Build, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, location string) (*Build, error)

func (f LoaderFunc) Load(ctx context.Context, location string) (*Build, error) {
	return f(ctx, location)
}

// APIVersion is the handler API this build provides. Manifests state the
// range they need in their api field.
const APIVersion = "1.0.0"

// ManifestLoader loads TOML manifests, following includes, and binds func
// leaves against a catalog.
type ManifestLoader struct {
	Catalog *handler.Catalog
	// APIVersion is checked against each manifest's api range.
	APIVersion string
}

type loadState struct {
	tree    *handler.Node
	visited map[string]bool
	files   []string
}

// Load reads the manifest at location and everything it includes. Each
// file is read once even when included several times.
func (l *ManifestLoader) Load(ctx context.Context, location string) (*Build, error) {
	st := &loadState{tree: handler.NewNode(), visited: make(map[string]bool)}
	root, err := l.loadFile(ctx, st, location, "")
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - loaded %s: %d handlers from %d files", manifestLogPrefix, location, st.tree.Len(), len(st.files)))
	return &Build{Tree: st.tree, Version: root.Version, Files: st.files}, nil
}

func (l *ManifestLoader) loadFile(ctx context.Context, st *loadState, path, versionRange string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s - bad path %s: %w", manifestLogPrefix, path, err)
	}
	if st.visited[abs] {
		return &Manifest{}, nil
	}
	st.visited[abs] = true
	st.files = append(st.files, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", manifestLogPrefix, abs, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	if versionRange != "" {
		if m.Version == "" {
			return nil, fmt.Errorf("%s - %s is included with range %s but declares no version", manifestLogPrefix, abs, versionRange)
		}
		if err := semver.Require(abs, m.Version, versionRange); err != nil {
			return nil, err
		}
	}
	if m.API != "" && l.APIVersion != "" {
		if err := semver.Require("host api", l.APIVersion, m.API); err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
	}

	base := filepath.Dir(abs)
	for _, h := range m.Handlers {
		segs, err := semver.SplitPath(h.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
		leaf, err := l.bind(h, base)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
		if err := st.tree.Set(segs, leaf); err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
	}

	for _, inc := range m.Include {
		ref, err := semver.ParseRef(inc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", abs, err)
		}
		target := ref.Target
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, target)
		}
		if _, err := l.loadFile(ctx, st, target, ref.Range); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (l *ManifestLoader) bind(h HandlerSpec, base string) (*handler.Leaf, error) {
	if h.Func != "" {
		if l.Catalog == nil {
			return nil, fmt.Errorf("%s - %s binds %s but no catalog is configured", manifestLogPrefix, h.Path, h.Func)
		}
		fn, err := l.Catalog.Lookup(h.Func)
		if err != nil {
			return nil, err
		}
		return &handler.Leaf{Name: h.Path, Kind: handler.KindFunc, FuncName: h.Func, Func: fn, Params: h.Params}, nil
	}

	dir := base
	if h.Dir != "" {
		dir = h.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
	}
	return &handler.Leaf{Name: h.Path, Kind: handler.KindExec, Exec: h.Exec, Dir: dir, Params: h.Params}, nil
}
