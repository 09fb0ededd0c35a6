package registry

import (
	"time"
)

// Health reports every namespace. The status is "unhealthy" with nothing
// loaded, "degraded" when a namespace's last reload failed, else "healthy".
func (r *Registry) Health() *HealthOutput {
	out := &HealthOutput{
		Status:     "healthy",
		Namespaces: []NamespaceHealth{},
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	for _, prefix := range r.Prefixes() {
		ns, err := r.lookup(prefix)
		if err != nil {
			continue
		}
		h := NamespaceHealth{Prefix: prefix, LastError: ns.getError()}
		if snap := ns.current.Load(); snap != nil {
			h.Version = snap.Version
			h.Seq = snap.Seq
			h.Handlers = snap.Tree.Len()
			h.LoadedAt = snap.LoadedAt.Format(time.RFC3339)
		}
		if h.LastError != "" {
			out.Status = "degraded"
		}
		out.Namespaces = append(out.Namespaces, h)
	}

	if len(out.Namespaces) == 0 {
		out.Status = "unhealthy"
	}
	return out
}
