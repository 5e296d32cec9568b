package scripts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ErrTimeout reports that a script exceeded its execution deadline and was
// killed.
var ErrTimeout = errors.New("script execution timed out")

// Result captures one finished execution. Stderr is nil unless the script
// declared separate output.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
	Duration time.Duration
}

// Runner executes scripts through a bounded worker pool so that a burst of
// requests cannot spawn an unbounded number of child processes. The wait for
// a child happens in the request's own goroutine; only the spawn slots are
// limited.
type Runner struct {
	pool    *ants.Pool
	timeout time.Duration
}

// NewRunner creates a runner allowing at most maxConcurrent simultaneous
// executions. defaultTimeout applies to scripts without their own timeout
// metadata.
func NewRunner(maxConcurrent int, defaultTimeout time.Duration) (*Runner, error) {
	if maxConcurrent <= 0 {
		return nil, errors.New("max concurrent executions must be > 0")
	}
	pool, err := ants.NewPool(maxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("create execution pool: %w", err)
	}
	return &Runner{pool: pool, timeout: defaultTimeout}, nil
}

// Release shuts down the worker pool. In-flight executions finish first.
func (r *Runner) Release() { r.pool.Release() }

// Running reports the number of executions currently in flight.
func (r *Runner) Running() int { return r.pool.Running() }

// Run executes the script behind d with the request's parameters and returns
// once the child process has exited and its output is fully drained. A
// nonzero exit is a normal Result, not an error; errors mean the script could
// not be run to completion (spawn failure or ErrTimeout).
func (r *Runner) Run(ctx context.Context, d *Descriptor, params map[string]any) (*Result, error) {
	done := make(chan struct{})
	var res *Result
	var runErr error

	// Submit blocks when the pool is saturated, which is the backpressure we
	// want: the request goroutine waits for a slot instead of failing.
	if err := r.pool.Submit(func() {
		defer close(done)
		res, runErr = r.execute(ctx, d, params)
	}); err != nil {
		return nil, fmt.Errorf("submit execution: %w", err)
	}
	<-done
	return res, runErr
}

func (r *Runner) execute(ctx context.Context, d *Descriptor, params map[string]any) (*Result, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.NewString()
	start := time.Now()
	slog.Debug("executing script", "execution", id, "script", d.Name, "path", d.Path)

	cmd := exec.CommandContext(ctx, d.Path)
	cmd.Dir = filepath.Dir(d.Path)
	cmd.Env = append(os.Environ(), encodeParams(params)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if d.Output == OutputSeparate {
		cmd.Stderr = &stderr
	} else {
		cmd.Stderr = &stdout
	}

	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		slog.Warn("script timed out", "execution", id, "script", d.Name, "timeout", timeout)
		return nil, fmt.Errorf("script %s after %s: %w", d.Name, timeout, ErrTimeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			slog.Error("script failed to start", "execution", id, "script", d.Name, "error", err)
			return nil, fmt.Errorf("execute script %s: %w", d.Name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	res := &Result{
		ExitCode: exitCode,
		Stdout:   splitLines(stdout.String()),
		Duration: elapsed,
	}
	if d.Output == OutputSeparate {
		res.Stderr = splitLines(stderr.String())
	}
	slog.Info("script finished", "execution", id, "script", d.Name, "retcode", exitCode, "duration", elapsed)
	return res, nil
}

// encodeParams turns the parsed request body into environment variables:
// CLOUDOMATE_PARAM_<KEY> per entry, with non-string values re-encoded as
// compact JSON, plus CLOUDOMATE_PARAMS holding the whole object.
func encodeParams(params map[string]any) []string {
	env := make([]string, 0, len(params)+1)
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = string(b)
		}
		env = append(env, "CLOUDOMATE_PARAM_"+envKey(k)+"="+s)
	}
	if all, err := json.Marshal(params); err == nil {
		env = append(env, "CLOUDOMATE_PARAMS="+string(all))
	}
	return env
}

func envKey(k string) string {
	k = strings.ToUpper(k)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}

// splitLines breaks captured output into lines without producing a trailing
// empty element for the final newline.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
