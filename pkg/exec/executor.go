// Package exec runs external tools such as the Azure CLI behind an
// interface so that token acquisition can be tested without spawning
// processes.
package exec

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandExecutor locates and runs external commands.
type CommandExecutor interface {
	// LookPath resolves an executable name to a path, like exec.LookPath.
	LookPath(file string) (string, error)

	// Execute runs a command with the given context and arguments.
	// Returns stdout, stderr, and any error that occurred.
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealCommandExecutor executes actual commands using os/exec.
type RealCommandExecutor struct{}

// LookPath searches PATH for file.
func (r *RealCommandExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Execute runs an actual command.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the standard production executor.
func DefaultExecutor() CommandExecutor {
	return &RealCommandExecutor{}
}
