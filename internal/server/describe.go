package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/morezero/streamcall/internal/config"
	"github.com/morezero/streamcall/pkg/bootstrap"
	"github.com/morezero/streamcall/pkg/events"
	"github.com/morezero/streamcall/pkg/registry"
)

// Describe loads the configured namespaces without starting anything and
// writes their handlers to w as JSON. No prefixes means all of them.
func Describe(ctx context.Context, cfg *config.Config, w io.Writer, prefixes ...string) error {
	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", logPrefix, err)
	}
	boot := bootstrap.CreateResolvedBootstrap(bootstrapCfg)
	reg, err := loadNamespaces(ctx, cfg, boot, &events.NoOpPublisher{})
	if err != nil {
		return err
	}

	if len(prefixes) == 0 {
		prefixes = reg.Prefixes()
	}
	out := make([]*registry.DescribeOutput, 0, len(prefixes))
	for _, prefix := range prefixes {
		d, err := reg.Describe(boot.ResolveAlias(prefix))
		if err != nil {
			return err
		}
		out = append(out, d)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
