package shared

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetTraceID(t *testing.T) {
	ctx := SetTraceID(context.Background(), "abc123")
	assert.Equal(t, "abc123", GetTraceID(ctx))
}

func TestSetTraceIDGeneratesWhenEmpty(t *testing.T) {
	ctx := SetTraceID(context.Background(), "")

	traceID := GetTraceID(ctx)
	require.Len(t, traceID, 32)
	_, err := hex.DecodeString(traceID)
	assert.NoError(t, err, "Expected valid hex string")
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	ctx := context.WithValue(context.Background(), TraceIDKey, 42)
	assert.Empty(t, GetTraceID(ctx), "non-string values are ignored")
}

func TestNewTraceIDUniqueness(t *testing.T) {
	const iterations = 100
	seen := make(map[string]bool, iterations)

	for i := 0; i < iterations; i++ {
		id := NewTraceID()
		assert.False(t, seen[id], "duplicate trace ID %s", id)
		seen[id] = true
	}
}
