package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldProcess_WithinTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10)
	d.now = func() time.Time { return now }

	assert.True(t, d.ShouldProcess("a"))
	assert.False(t, d.ShouldProcess("a"))
	assert.True(t, d.ShouldProcess("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.ShouldProcess("a"))
}

func TestShouldProcess_EmptyIDAlwaysPasses(t *testing.T) {
	d := New(0, 0)
	assert.True(t, d.ShouldProcess(""))
	assert.True(t, d.ShouldProcess(""))
	assert.Zero(t, d.Len())
}

func TestShouldProcess_BoundedSize(t *testing.T) {
	d := New(time.Hour, 3)
	for i := 0; i < 10; i++ {
		assert.True(t, d.ShouldProcess(fmt.Sprintf("id-%d", i)))
	}
	assert.LessOrEqual(t, d.Len(), 3)
}

func TestKey(t *testing.T) {
	a := Key("command/pump/1", []byte(`{"turn_on":true}`))
	assert.Equal(t, a, Key("command/pump/1", []byte(`{"turn_on":true}`)))
	assert.NotEqual(t, a, Key("command/pump/2", []byte(`{"turn_on":true}`)))
	assert.NotEqual(t, a, Key("command/pump/1", []byte(`{"turn_on":false}`)))
}
