// Package events defines registry reload notifications and the publishers
// that deliver them.
package events

// Reload outcomes.
const (
	OutcomeReloaded = "reloaded"
	OutcomeFailed   = "failed"
)

// ReloadEvent is emitted after a namespace's manifests were re-read. On
// failure the previous tree stays active and Error says why.
type ReloadEvent struct {
	Reload    bool     `json:"reload"`
	Prefix    string   `json:"prefix"`
	Outcome   string   `json:"outcome"`
	Version   string   `json:"version,omitempty"`
	Seq       uint64   `json:"seq"`
	Files     []string `json:"files,omitempty"`
	Handlers  int      `json:"handlers"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Failed reports whether the reload kept the previous tree.
func (e *ReloadEvent) Failed() bool {
	return e.Outcome == OutcomeFailed
}
