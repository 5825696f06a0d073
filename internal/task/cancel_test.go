package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCancelSet(t *testing.T) {
	c := NewCancelSet(time.Minute, setupTestLogger())

	c.Add("a", "b")
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.False(t, c.Has("c"))

	c.Remove("a")
	assert.False(t, c.Has("a"))
	assert.Equal(t, 1, c.Len())
}

func TestCancelSetPrunesStaleRequests(t *testing.T) {
	c := NewCancelSet(10*time.Minute, setupTestLogger())

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Add("old")

	now = now.Add(11 * time.Minute)
	c.Add("new")

	assert.False(t, c.Has("old"))
	assert.True(t, c.Has("new"))
}

func TestCancelSetDefaultRetention(t *testing.T) {
	c := NewCancelSet(0, setupTestLogger())
	assert.Equal(t, 10*time.Minute, c.retention)
}
