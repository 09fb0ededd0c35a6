package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/morezero/streamcall/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// EnvBootstrapFile names the environment variable consulted after explicit paths.
const EnvBootstrapFile = "BOOTSTRAP_FILE"

// LoadBootstrapConfig loads bootstrap config from file paths or environment.
// It tries paths in order: first any paths passed in, then BOOTSTRAP_FILE, then defaults.
// Manifest paths in the file are made relative to the file's directory.
func LoadBootstrapConfig(paths ...string) (*BootstrapConfig, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvBootstrapFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/bootstrap.json", "bootstrap.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg BootstrapConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - failed to parse bootstrap file %s: %w", logPrefix, p, err)
		}
		if abs, err := filepath.Abs(p); err == nil {
			cfg.dir = filepath.Dir(abs)
		} else {
			cfg.dir = filepath.Dir(p)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s", logPrefix, p))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return GetDefaultBootstrapConfig(), nil
}

// GetDefaultBootstrapConfig serves the root prefix from lambda/manifest.toml
// in the working directory.
func GetDefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		Name:        "streamcall-bootstrap",
		Version:     "1.0.0",
		Description: "Default namespace bootstrap",
		Namespaces: map[string]NamespaceConfig{
			"": {Manifest: "lambda/manifest.toml", Description: "root namespace"},
		},
		Middlewares: []string{"recover", "logging", "metrics"},
		ChangeEvents: ChangeEventTopics{
			Global: "watch",
		},
	}
}

// Validate checks prefixes, aliases and offload settings.
func (c *BootstrapConfig) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("no namespaces configured")
	}
	for prefix, ns := range c.Namespaces {
		if err := validatePrefix(prefix); err != nil {
			return err
		}
		if strings.TrimSpace(ns.Manifest) == "" {
			return fmt.Errorf("namespace %q has no manifest", prefix)
		}
	}
	for alias, target := range c.Aliases {
		if err := validatePrefix(alias); err != nil {
			return err
		}
		if _, ok := c.Namespaces[alias]; ok {
			return fmt.Errorf("alias %q shadows a namespace", alias)
		}
		if _, ok := c.Namespaces[target]; !ok {
			return fmt.Errorf("alias %q points to unknown namespace %q", alias, target)
		}
	}
	if c.Offload != nil && c.Offload.MaxRuntime != "" {
		if _, err := time.ParseDuration(c.Offload.MaxRuntime); err != nil {
			return fmt.Errorf("offload maxRuntime: %w", err)
		}
	}
	return nil
}

func validatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if _, err := semver.SplitPath(prefix); err != nil {
		return fmt.Errorf("prefix %q: %w", prefix, err)
	}
	return nil
}

// MaxRuntimeDuration returns the parsed offload runtime limit, zero when unset.
func (o *OffloadConfig) MaxRuntimeDuration() time.Duration {
	if o == nil || o.MaxRuntime == "" {
		return 0
	}
	d, _ := time.ParseDuration(o.MaxRuntime)
	return d
}

// CreateResolvedBootstrap builds a ResolvedBootstrap with absolute manifest paths.
func CreateResolvedBootstrap(cfg *BootstrapConfig) *ResolvedBootstrap {
	namespaces := make(map[string]*NamespaceConfig, len(cfg.Namespaces))
	for prefix, ns := range cfg.Namespaces {
		n := ns
		n.Manifest = resolvePath(cfg.dir, ns.Manifest)
		namespaces[prefix] = &n
	}

	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, target := range cfg.Aliases {
		aliases[alias] = target
	}

	middlewares := make([]string, len(cfg.Middlewares))
	copy(middlewares, cfg.Middlewares)

	var offload *OffloadConfig
	if cfg.Offload != nil {
		o := *cfg.Offload
		offload = &o
	}

	changeEvents := cfg.ChangeEvents
	if changeEvents.Global == "" {
		changeEvents.Global = "watch"
	}

	return &ResolvedBootstrap{
		name:         cfg.Name,
		version:      cfg.Version,
		namespaces:   namespaces,
		aliases:      aliases,
		middlewares:  middlewares,
		offload:      offload,
		changeEvents: changeEvents,
	}
}

// MergeBootstrapConfigs merges an override config into a base config.
func MergeBootstrapConfigs(base, override *BootstrapConfig) *BootstrapConfig {
	merged := *base

	merged.Namespaces = make(map[string]NamespaceConfig, len(base.Namespaces)+len(override.Namespaces))
	for prefix, ns := range base.Namespaces {
		merged.Namespaces[prefix] = ns
	}
	for prefix, ns := range override.Namespaces {
		ns.Manifest = resolvePath(override.dir, ns.Manifest)
		merged.Namespaces[prefix] = ns
	}

	merged.Aliases = make(map[string]string, len(base.Aliases)+len(override.Aliases))
	for alias, target := range base.Aliases {
		merged.Aliases[alias] = target
	}
	for alias, target := range override.Aliases {
		merged.Aliases[alias] = target
	}

	if len(override.Middlewares) > 0 {
		merged.Middlewares = override.Middlewares
	}
	if override.Offload != nil {
		merged.Offload = override.Offload
	}
	if override.ChangeEvents.Global != "" {
		merged.ChangeEvents.Global = override.ChangeEvents.Global
	}

	return &merged
}
