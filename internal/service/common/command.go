//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/oshokin/gameserver-deploy/internal/logger"
)

// redacted replaces secrets in rendered command lines.
const redacted = "****"

var (
	// ErrCommandNotFound is returned when the executable cannot be located.
	ErrCommandNotFound = errors.New("command not found")
	// ErrCommandFailed is returned when a command exits with a non-zero status.
	ErrCommandFailed = errors.New("command failed")
)

// Command is a structured subprocess invocation: an executable and an explicit
// argument list, never a shell-interpreted string.
type Command struct {
	// Name is the executable name or path.
	Name string
	// Args are passed to the executable verbatim.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is the full child environment; nil inherits the current process environment.
	Env []string
	// Stdin is connected to the child's standard input when set.
	Stdin io.Reader
	// Stdout receives the child's standard output; nil discards it.
	Stdout io.Writer
	// Stderr receives the child's standard error; nil discards it.
	Stderr io.Writer
	// Secrets are values masked when the command is rendered for logs.
	Secrets []string
}

// String renders the command as a copy-pasteable shell line with secrets masked.
func (c *Command) String() string {
	words := make([]string, 0, len(c.Args)+1)
	words = append(words, c.Name)
	words = append(words, c.Args...)

	for i, word := range words {
		for _, secret := range c.Secrets {
			if secret != "" {
				word = strings.ReplaceAll(word, secret, redacted)
			}
		}

		words[i] = word
	}

	return shellescape.QuoteCommand(words)
}

// Runner executes commands and blocks until they exit.
type Runner interface {
	Run(ctx context.Context, cmd *Command) error
}

// ExecRunner runs commands as real child processes.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command, waits for it and maps failures to ErrCommandNotFound
// or ErrCommandFailed. Cancelling ctx kills the child.
func (r *ExecRunner) Run(ctx context.Context, cmd *Command) error {
	path, err := exec.LookPath(cmd.Name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", cmd.Name, ErrCommandNotFound)
		}

		return fmt.Errorf("look up %s: %w", cmd.Name, err)
	}

	logger.DebugKV(ctx, "Running command", "command", cmd.String())

	child := exec.CommandContext(ctx, path, cmd.Args...)
	child.Dir = cmd.Dir
	child.Env = cmd.Env
	child.Stdin = cmd.Stdin
	child.Stdout = cmd.Stdout
	child.Stderr = cmd.Stderr

	if err = child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d: %w", cmd.Name, exitErr.ExitCode(), ErrCommandFailed)
		}

		return fmt.Errorf("run %s: %w", cmd.Name, err)
	}

	return nil
}
