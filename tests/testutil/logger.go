package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/akv/internal/logging"
)

// TestLogger captures log output for validation in tests.
//
// Example usage:
//
//	logger := NewTestLogger(t)
//	repo, _ := repository.New(url, gw, repository.WithLogger(logger.Logger))
//	...
//	logger.AssertContains(t, "Cache read")
//	logger.AssertNotContains(t, "s3cret")
type TestLogger struct {
	*logging.Logger
	buf *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger creates an uncoloured logger with debug disabled.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	return NewTestLoggerWithDebug(t, false)
}

// NewTestLoggerWithDebug creates an uncoloured logger that captures debug
// messages when debug is true.
func NewTestLoggerWithDebug(t *testing.T, debug bool) *TestLogger {
	t.Helper()
	buf := &syncBuffer{}
	return &TestLogger{
		Logger: logging.NewWithWriter(buf, debug, true),
		buf:    buf,
	}
}

// GetOutput returns everything logged so far.
func (l *TestLogger) GetOutput() string {
	return l.buf.String()
}

// Lines returns the logged lines without the trailing empty line.
func (l *TestLogger) Lines() []string {
	out := strings.TrimRight(l.GetOutput(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// AssertContains asserts that the output contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "log output should contain %q", substr)
}

// AssertNotContains asserts that the output does not contain substr.
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "log output should not contain %q", substr)
}
