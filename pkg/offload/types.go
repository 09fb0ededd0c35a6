// Package offload runs streaming calls in short-lived workers. The caller
// side forks a worker, hands it the call over a private bus topic and kills
// it once the worker reports done on the stream topic. The worker side
// dispatches the call exactly as a local dispatcher would.
package offload

import (
	"context"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/stream"
)

const logPrefix = "offload:offload"

// WorkerPrefix names forked workers: pip-<evt>.
const WorkerPrefix = "pip-"

// Env keys set on every forked worker.
const (
	EnvWorkerName      = "WORKER_NAME"
	EnvWorkerNamespace = "WORKER_NAMESPACE"
)

// WorkerSpec describes a worker to launch.
type WorkerSpec struct {
	Name      string
	Namespace string
	Image     string
	Command   []string
	Env       map[string]string
}

// Ref returns the identity of the worker.
func (s WorkerSpec) Ref() stream.WorkerRef {
	return stream.WorkerRef{Name: s.Name, Namespace: s.Namespace}
}

// Orchestrator launches and terminates workers.
type Orchestrator interface {
	Fork(ctx context.Context, spec WorkerSpec) error
	Kill(ctx context.Context, ref stream.WorkerRef) error
}

// ExitWatcher is implemented by orchestrators that observe worker exit.
// Exited returns a channel that yields the exit error, nil for a clean
// exit, and is then closed. For a worker that is not running the channel
// is already closed.
type ExitWatcher interface {
	Exited(ref stream.WorkerRef) <-chan error
}

// Handshake kinds exchanged on the res topic.
const (
	KindAck   = "ack"
	KindCall  = "call"
	KindReply = "reply"
)

// Handshake is one message on the res topic. A call carries the frame
// inline or a store key in Ref.
type Handshake struct {
	Kind  string               `cbor:"1,keyasint"`
	Frame []byte               `cbor:"2,keyasint,omitempty"`
	Ref   string               `cbor:"3,keyasint,omitempty"`
	Err   *callerr.ErrorDetail `cbor:"4,keyasint,omitempty"`
}

func marshalHandshake(h *Handshake) ([]byte, error) {
	data, err := cbor.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("%s - encode handshake: %w", logPrefix, err)
	}
	return data, nil
}

func unmarshalHandshake(data []byte) (*Handshake, error) {
	var h Handshake
	if err := cbor.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%s - decode handshake: %w", logPrefix, err)
	}
	return &h, nil
}

// isKind matches handshakes of one kind, so each side ignores its own
// emissions on the shared topic.
func isKind(kind string) func([]byte) bool {
	return func(data []byte) bool {
		h, err := unmarshalHandshake(data)
		return err == nil && h.Kind == kind
	}
}

// NewRes mints the private handshake topic of one offload.
func NewRes() string {
	return "res-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// WorkerName returns the worker name for a stream token.
func WorkerName(evt string) string {
	return WorkerPrefix + evt
}
