package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

// Command is one invocation of an external packaging tool
type Command struct {
	Name string
	Args []string

	// Dir is the working directory; empty means the current one
	Dir string

	// Env is appended to the process environment
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CommandRunner executes external tools
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Log logger.Logger
}

// Run executes cmd and waits for it. A non-zero exit is reported as
// domain.ErrCommandFailed carrying the tool's stderr.
func (r ExecRunner) Run(ctx context.Context, cmd Command) error {
	log := r.Log
	if log == nil {
		log = logger.Get()
	}
	log.Debug("Executing command.", "command", cmd.String(), "dir", cmd.Dir)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout

	var stderr bytes.Buffer
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v: %s", domain.ErrCommandFailed, cmd.Name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// runToFile runs cmd with its stdout redirected into path
func runToFile(ctx context.Context, runner CommandRunner, cmd Command, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, path, err)
	}
	cmd.Stdout = f

	runErr := runner.Run(ctx, cmd)
	closeErr := f.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrLocalIO, path, closeErr)
	}
	return nil
}
