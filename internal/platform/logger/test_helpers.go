package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogBuffer captures JSON log lines written by concurrent goroutines,
// such as the runner's workers and the event forwarder.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// GetLogEntries decodes every non-empty line as one JSON record.
func (b *TestLogBuffer) GetLogEntries() ([]map[string]any, error) {
	var entries []map[string]any

	sc := bufio.NewScanner(strings.NewReader(b.String()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("log line %q: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, sc.Err()
}

// EntriesWithLevel returns the records logged at level ("DEBUG", "WARN", ...).
func (b *TestLogBuffer) EntriesWithLevel(level string) ([]map[string]any, error) {
	entries, err := b.GetLogEntries()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, e := range entries {
		if e[slog.LevelKey] == level {
			out = append(out, e)
		}
	}
	return out, nil
}

// AssertLogContains fails the test when content never appears in the log.
func AssertLogContains(t *testing.T, logBuf *TestLogBuffer, content string) {
	t.Helper()

	if logs := logBuf.String(); !strings.Contains(logs, content) {
		t.Errorf("expected log to contain %q\nlogs:\n%s", content, logs)
	}
}

// AssertLogField fails the test unless some record carries field=expected.
func AssertLogField(t *testing.T, logBuf *TestLogBuffer, field string, expected any) {
	t.Helper()

	entries, err := logBuf.GetLogEntries()
	if err != nil {
		t.Fatalf("failed to parse log entries: %v", err)
	}
	for _, entry := range entries {
		if v, ok := entry[field]; ok && v == expected {
			return
		}
	}
	t.Errorf("no log entry has %s=%v\nlogs:\n%s", field, expected, logBuf.String())
}

// GetTestLogger returns a debug-level JSON logger writing into a fresh buffer.
func GetTestLogger(t *testing.T) (*slog.Logger, *TestLogBuffer) {
	t.Helper()

	logBuf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})), logBuf
}
