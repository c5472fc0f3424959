// Package testutil provides testing utilities for akv.
package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// MockCommandExecutor is a configurable pkg/exec.CommandExecutor for
// tests of CLI-backed token providers.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args)
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// Paths maps executable names to the path LookPath returns. Names
	// that are absent resolve to exec.ErrNotFound.
	Paths map[string]string

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Command string
	Args    []string
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses: make(map[string]MockResponse),
		Paths:     make(map[string]string),
	}
}

// LookPath returns the configured path for file.
func (m *MockCommandExecutor) LookPath(file string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.Paths[file]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{Command: name, Args: args})

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	key := buildKey(name, args)

	if resp, ok := m.Responses[key]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	// Longest prefix wins so specific patterns beat generic ones.
	var best string
	for pattern := range m.Responses {
		if strings.HasPrefix(key, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		resp := m.Responses[best]
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	return []byte{}, []byte{}, nil
}

func buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// AddJSONResponse registers stdout for a command pattern.
func (m *MockCommandExecutor) AddJSONResponse(commandPattern string, jsonData string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = MockResponse{Stdout: []byte(jsonData)}
}

// AddErrorResponse registers a failing exit for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, exitCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = MockResponse{
		Stderr: []byte(errMsg),
		Err:    fmt.Errorf("exit status %d: %s", exitCode, errMsg),
	}
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Calls returns a copy of the recorded calls.
func (m *MockCommandExecutor) Calls() []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedCall, len(m.RecordedCalls))
	copy(out, m.RecordedCalls)
	return out
}
