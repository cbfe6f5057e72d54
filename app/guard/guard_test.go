package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimits_Enabled(t *testing.T) {
	assert.False(t, Limits{}.Enabled())
	assert.True(t, Limits{MemoryBelow: 90}.Enabled())
	assert.True(t, Limits{CPUBelow: 95}.Enabled())
}

func TestCheck(t *testing.T) {
	t.Run("disabled limits always pass", func(t *testing.T) {
		ok, reason := Check(Limits{})
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("generous limits pass", func(t *testing.T) {
		ok, reason := Check(Limits{MemoryBelow: 100, CPUBelow: 100})
		assert.True(t, ok, reason)
	})

	t.Run("one percent memory threshold rejects", func(t *testing.T) {
		ok, reason := Check(Limits{MemoryBelow: 1})
		assert.False(t, ok)
		assert.Contains(t, reason, "memory")
	})
}
