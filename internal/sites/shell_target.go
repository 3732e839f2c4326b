package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultReloadCommand asks nginx to re-read its configuration.
const DefaultReloadCommand = "nginx -s reload"

// ShellTrigger runs a shell command to apply unit changes, typically a proxy reload.
type ShellTrigger struct {
	command string
}

// NewShellTrigger returns nil when command is blank.
func NewShellTrigger(command string) *ShellTrigger {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return nil
	}
	return &ShellTrigger{command: cmd}
}

// Command returns the shell command line.
func (s *ShellTrigger) Command() string {
	return s.command
}

// Reload runs the command with no input.
func (s *ShellTrigger) Reload(ctx context.Context) error {
	return s.run(ctx, nil)
}

// ApplyChanges runs the command with the change set as JSON on stdin.
func (s *ShellTrigger) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	return s.run(ctx, payload)
}

func (s *ShellTrigger) run(ctx context.Context, stdin []byte) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell target failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
