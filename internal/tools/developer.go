// ABOUTME: Delegates coding tasks to an external developer command
// ABOUTME: Runs inside a sandbox directory with a hard timeout

package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TaskPlaceholder in a developer command argument is replaced by the task text.
// Without one the task is appended as the last argument.
const TaskPlaceholder = "{task}"

// DefaultSandboxDir holds projects created by the developer command.
const DefaultSandboxDir = "/tmp/clawswarm-projects"

// DefaultDeveloperTimeout bounds one delegated task.
const DefaultDeveloperTimeout = 300 * time.Second

// ErrDeveloperTimeout is returned when the developer command is killed for running too long.
var ErrDeveloperTimeout = errors.New("developer command timed out")

const maxOutputChars = 8000

// DeveloperConfig configures the developer delegate.
type DeveloperConfig struct {
	Command    []string
	SandboxDir string
	Timeout    time.Duration
}

// Developer runs coding tasks through an external agent CLI.
type Developer struct {
	command    []string
	sandboxDir string
	timeout    time.Duration
}

// NewDeveloper creates a delegate. Configured reports whether a command is set.
func NewDeveloper(cfg DeveloperConfig) *Developer {
	dir := cfg.SandboxDir
	if dir == "" {
		dir = DefaultSandboxDir
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDeveloperTimeout
	}
	return &Developer{
		command:    append([]string(nil), cfg.Command...),
		sandboxDir: dir,
		timeout:    timeout,
	}
}

// Configured reports whether a developer command is available.
func (d *Developer) Configured() bool {
	return len(d.command) > 0
}

// SandboxDir returns the working directory for delegated tasks.
func (d *Developer) SandboxDir() string {
	return d.sandboxDir
}

// Run executes the developer command for task and returns its stdout.
func (d *Developer) Run(ctx context.Context, task string) (string, error) {
	if !d.Configured() {
		return "", fmt.Errorf("%w: no developer command", ErrNotConfigured)
	}
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("%w: empty task", ErrInvalidArgument)
	}
	if err := os.MkdirAll(d.sandboxDir, 0755); err != nil {
		return "", fmt.Errorf("creating sandbox: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := d.args(task)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = d.sandboxDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w after %s", ErrDeveloperTimeout, d.timeout)
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("developer command failed: %w: %s", err, tail(detail, 500))
	}
	return tail(strings.TrimSpace(stdout.String()), maxOutputChars), nil
}

func (d *Developer) args(task string) []string {
	out := make([]string, 0, len(d.command)+1)
	replaced := false
	for _, a := range d.command {
		if strings.Contains(a, TaskPlaceholder) {
			a = strings.ReplaceAll(a, TaskPlaceholder, task)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, task)
	}
	return out
}

// tail keeps the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
