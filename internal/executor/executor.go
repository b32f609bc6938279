// Package executor runs shell stage scripts as child processes.
//
// A script runs under "sh -c" with an explicit environment, a working
// directory and an optional timeout. The whole process group is killed when
// the timeout elapses or the caller's context is cancelled, so scripts that
// spawn children do not outlive their stage.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/imamik/shipyard/internal/failure"
)

// DefaultTailLines is how many trailing output lines an error carries.
const DefaultTailLines = 20

var errStepTimeout = errors.New("step timeout")

// Command describes one script invocation.
type Command struct {
	Script  string
	Dir     string
	Env     map[string]string
	Timeout time.Duration

	// Output, when set, receives combined stdout and stderr as it is produced.
	Output io.Writer
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs commands through a shell interpreter.
type Executor struct {
	shell     []string
	inherit   []string
	tailLines int
}

// Option configures an Executor.
type Option func(*Executor)

// WithShell replaces the interpreter, e.g. WithShell("bash", "-euo", "pipefail", "-c").
// The script is appended as the last argument.
func WithShell(argv ...string) Option {
	return func(e *Executor) {
		e.shell = argv
	}
}

// WithInheritedEnv lists variables copied from the parent environment when
// the command does not set them itself.
func WithInheritedEnv(keys ...string) Option {
	return func(e *Executor) {
		e.inherit = keys
	}
}

// WithTailLines sets how many output lines are attached to errors.
func WithTailLines(n int) Option {
	return func(e *Executor) {
		e.tailLines = n
	}
}

// New creates an Executor running scripts with "sh -c".
func New(opts ...Option) *Executor {
	e := &Executor{
		shell:     []string{"sh", "-c"},
		inherit:   []string{"PATH", "HOME"},
		tailLines: DefaultTailLines,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs cmd and waits for it. A non-zero exit is reported as an
// ExecutionError, an elapsed timeout as TimeoutExceeded and cancellation of
// ctx as Cancelled. The Result is returned in every case where the process
// was started.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if strings.TrimSpace(cmd.Script) == "" {
		return nil, failure.New(failure.KindExecutionError, "exec", errors.New("empty script"))
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, cmd.Timeout, errStepTimeout)
		defer cancel()
	}

	argv := append(append([]string{}, e.shell...), cmd.Script)
	// #nosec G204 - the script is the stage definition the operator wrote
	c := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = e.environ(cmd.Env)
	setProcessGroup(c)
	c.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	if cmd.Output != nil {
		c.Stdout = io.MultiWriter(&stdout, cmd.Output)
		c.Stderr = io.MultiWriter(&stderr, cmd.Output)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	start := time.Now()
	err := c.Run()
	res := &Result{
		ExitCode: c.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	tail := Tail(res.Stderr, e.tailLines)
	if tail == "" {
		tail = Tail(res.Stdout, e.tailLines)
	}

	switch {
	case errors.Is(context.Cause(runCtx), errStepTimeout):
		return res, failure.WithOutput(failure.KindTimeoutExceeded, "exec",
			fmt.Errorf("script exceeded %s timeout", cmd.Timeout), tail)
	case ctx.Err() != nil:
		return res, failure.WithOutput(failure.KindCancelled, "exec", ctx.Err(), tail)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, failure.WithOutput(failure.KindExecutionError, "exec",
			fmt.Errorf("exit status %d", res.ExitCode), tail)
	}
	return res, failure.WithOutput(failure.KindExecutionError, "exec",
		fmt.Errorf("failed to start %s: %w", argv[0], err), tail)
}

func (e *Executor) environ(env map[string]string) []string {
	out := make([]string, 0, len(env)+len(e.inherit))
	for _, k := range e.inherit {
		if _, set := env[k]; set {
			continue
		}
		if v, ok := os.LookupEnv(k); ok {
			out = append(out, k+"="+v)
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Tail returns the last n non-empty-trailing lines of s.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
