package indexer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Ning0612/pkgsync/internal/logger"
)

// recordedCommand is a Command with its stdin drained
type recordedCommand struct {
	Command
	stdin string
}

// fakeRunner records commands instead of executing them. Stdout gets
// "<name> <args>\n" so generated files are non-empty.
type fakeRunner struct {
	mu       sync.Mutex
	commands []recordedCommand

	// failOn makes the first command with this name fail
	failOn string
}

func (r *fakeRunner) Run(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := recordedCommand{Command: cmd}
	if cmd.Stdin != nil {
		b, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return err
		}
		rec.stdin = string(b)
	}

	r.mu.Lock()
	r.commands = append(r.commands, rec)
	r.mu.Unlock()

	if r.failOn != "" && cmd.Name == r.failOn {
		return fmt.Errorf("%s exited with status 1", cmd.Name)
	}
	if cmd.Stdout != nil {
		if _, err := io.WriteString(cmd.Stdout, cmd.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRunner) named(name string) []recordedCommand {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []recordedCommand
	for _, c := range r.commands {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func nullLogger() logger.Logger {
	return &logger.NullLogger{}
}
