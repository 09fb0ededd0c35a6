package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
)

const execLogPrefix = "handler:exec"

// maxLine bounds a single stdout line of an exec leaf.
const maxLine = 4 << 20

type execInput struct {
	Entry  []string       `json:"entry"`
	Args   []any          `json:"args"`
	Params map[string]any `json:"params,omitempty"`
}

// execStream runs the leaf command with the call as JSON on stdin. Every
// non-empty stdout line is decoded as JSON and yielded; a non-JSON line is
// yielded as a string. A non-zero exit ends the stream with an error
// carrying stderr. Stopping iteration kills the process.
func execStream(c *Call, l *Leaf) Stream {
	return func(yield func(any, error) bool) {
		if len(l.Exec) == 0 {
			yield(nil, fmt.Errorf("%s - leaf %s has no command", execLogPrefix, l.Name))
			return
		}

		input, err := json.Marshal(execInput{Entry: c.Entry, Args: c.Args, Params: l.Params})
		if err != nil {
			yield(nil, fmt.Errorf("%s - failed to encode input: %w", execLogPrefix, err))
			return
		}

		cmd := exec.CommandContext(c.Context, l.Exec[0], l.Exec[1:]...)
		cmd.Dir = l.Dir
		cmd.Stdin = bytes.NewReader(input)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("%s - failed to open stdout: %w", execLogPrefix, err))
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("%s - failed to start %s: %w", execLogPrefix, l.Exec[0], err))
			return
		}
		slog.Debug(fmt.Sprintf("%s - started %s pid=%d", execLogPrefix, l.Name, cmd.Process.Pid))

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var item any
			if err := json.Unmarshal(line, &item); err != nil {
				item = string(line)
			}
			if !yield(item, nil) {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
		}

		scanErr := scanner.Err()
		if err := cmd.Wait(); err != nil {
			if c.Context.Err() != nil {
				return
			}
			yield(nil, fmt.Errorf("%s - %s failed: %w: %s", execLogPrefix, l.Name, err, bytes.TrimSpace(stderr.Bytes())))
			return
		}
		if scanErr != nil {
			yield(nil, fmt.Errorf("%s - reading output of %s: %w", execLogPrefix, l.Name, scanErr))
		}
	}
}
