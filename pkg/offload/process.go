package offload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/morezero/streamcall/pkg/stream"
)

const processLogPrefix = "offload:process"

// ProcessOrchestrator forks workers as local processes. Image is ignored.
type ProcessOrchestrator struct {
	// Stdout and Stderr receive worker output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	mu    sync.Mutex
	procs map[stream.WorkerRef]*proc
}

type proc struct {
	cmd  *exec.Cmd
	exit chan error
}

// NewProcessOrchestrator creates a ProcessOrchestrator that forwards worker
// output to this process.
func NewProcessOrchestrator() *ProcessOrchestrator {
	return &ProcessOrchestrator{Stdout: os.Stdout, Stderr: os.Stderr, procs: map[stream.WorkerRef]*proc{}}
}

func (p *ProcessOrchestrator) Fork(_ context.Context, spec WorkerSpec) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("%s - worker %s has no command", processLogPrefix, spec.Name)
	}
	ref := spec.Ref()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.procs == nil {
		p.procs = map[stream.WorkerRef]*proc{}
	}
	if _, ok := p.procs[ref]; ok {
		return fmt.Errorf("%s - worker %s/%s already running", processLogPrefix, ref.Namespace, ref.Name)
	}

	// Workers outlive the request that forked them.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+spec.Env[k])
	}
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s - start %s: %w", processLogPrefix, spec.Name, err)
	}
	pr := &proc{cmd: cmd, exit: make(chan error, 1)}
	p.procs[ref] = pr
	slog.Info(fmt.Sprintf("%s - started %s pid=%d", processLogPrefix, spec.Name, cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.procs[ref] == pr {
			delete(p.procs, ref)
		}
		p.mu.Unlock()
		slog.Debug(fmt.Sprintf("%s - %s exited: %v", processLogPrefix, spec.Name, err))
		pr.exit <- err
		close(pr.exit)
	}()
	return nil
}

// Kill terminates a worker. A worker that already exited is not an error.
func (p *ProcessOrchestrator) Kill(_ context.Context, ref stream.WorkerRef) error {
	p.mu.Lock()
	pr, ok := p.procs[ref]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := pr.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("%s - kill %s: %w", processLogPrefix, ref.Name, err)
	}
	slog.Info(fmt.Sprintf("%s - killed %s", processLogPrefix, ref.Name))
	return nil
}

// Exited reports the exit of a worker started by Fork.
func (p *ProcessOrchestrator) Exited(ref stream.WorkerRef) <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.procs[ref]; ok {
		return pr.exit
	}
	gone := make(chan error)
	close(gone)
	return gone
}

// Running returns the number of live workers.
func (p *ProcessOrchestrator) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}
