package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/streamcall/pkg/handler"
)

const describeLogPrefix = "registry:describe"

// Describe lists every callable path of a namespace.
func (r *Registry) Describe(prefix string) (*DescribeOutput, error) {
	slog.Debug(fmt.Sprintf("%s - prefix=%q", describeLogPrefix, prefix))

	snap := r.Snapshot(prefix)
	if snap == nil {
		return nil, &RegistryError{Code: CodeNotFound, Message: fmt.Sprintf("namespace %q is not loaded", prefix)}
	}

	out := &DescribeOutput{
		Prefix:   prefix,
		Version:  snap.Version,
		Seq:      snap.Seq,
		LoadedAt: snap.LoadedAt.Format(time.RFC3339),
		Methods:  []MethodInfo{},
	}
	snap.Tree.Walk(func(path []string, leaf *handler.Leaf) {
		out.Methods = append(out.Methods, MethodInfo{
			Path:   strings.Join(path, "."),
			Kind:   leaf.Kind.String(),
			Func:   leaf.FuncName,
			Exec:   leaf.Exec,
			Params: leaf.Params,
		})
	})
	return out, nil
}
