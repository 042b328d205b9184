// Package localexec runs allowlisted local executables, the csvlinter
// validator among them, and captures their output.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/csvls/internal/connectors"
)

// waitDelay caps how long Execute waits for output pipes after the context
// kills the process.
const waitDelay = 2 * time.Second

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// LocalExec runs processes on this machine. Only executables registered
// with Allow, invoked with one of their registered subcommands, may run.
type LocalExec struct {
	workDir string

	mu      sync.RWMutex
	allowed map[string][]string
}

// New returns an executor that runs commands in workDir ("" = inherit).
// Nothing is allowed until Allow is called.
func New(workDir string) *LocalExec {
	return &LocalExec{
		workDir: workDir,
		allowed: make(map[string][]string),
	}
}

func (l *LocalExec) Name() string {
	return "localexec"
}

// Allow adds cmd with the given subcommands to the allowlist, replacing any
// previous entry for cmd.
func (l *LocalExec) Allow(cmd string, subcmds ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowed[cmd] = append([]string(nil), subcmds...)
}

// IsAllowed reports whether cmd is registered and args[0] is one of its
// subcommands. A bare cmd is never allowed.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	l.mu.RLock()
	subcmds, ok := l.allowed[cmd]
	l.mu.RUnlock()
	if !ok || len(args) == 0 {
		return false
	}
	for _, s := range subcmds {
		if args[0] == s {
			return true
		}
	}
	return false
}

// Execute runs cmd to completion. A non-zero exit is returned in the result;
// only start failures and context kills without an exit status are errors.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string, stdin io.Reader) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = l.workDir
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = waitDelay
	if stdin != nil {
		c.Stdin = stdin
	}

	res := &connectors.ExecResult{Command: cmd, Args: args}
	start := time.Now()
	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run %s: %w", cmd, err)
	}
	return res, nil
}
