package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock(t *testing.T) {
	c := NewDeterministicClock(0)
	assert.Equal(t, DefaultEpochMillis, c.NowMillis())

	c.BindBlock(1_600_000_000)
	assert.Equal(t, int64(1_600_000_000_000), c.NowMillis())
	assert.Equal(t, int64(1_600_000_000_000), c.Now().UnixMilli())

	c.Unbind()
	assert.Equal(t, DefaultEpochMillis, c.NowMillis())
}

func TestDeterministicClock_FixedDateOnlyPinsDate(t *testing.T) {
	c := NewDeterministicClock(42)
	assert.Equal(t, int64(42), c.DateMillis())
	assert.Equal(t, DefaultEpochMillis, c.NowMillis())

	c.BindBlock(1_600_000_000)
	assert.Equal(t, int64(42), c.DateMillis())
	assert.Equal(t, int64(1_600_000_000_000), c.NowMillis())

	unpinned := NewDeterministicClock(0)
	unpinned.BindBlock(1_600_000_000)
	assert.Equal(t, int64(1_600_000_000_000), unpinned.DateMillis())
}

func TestDeterministicClock_Elapsed(t *testing.T) {
	c := NewDeterministicClock(0)
	assert.Equal(t, 0.0, c.Elapsed())
	assert.InDelta(t, 0.1, c.Elapsed(), 1e-9)
	assert.InDelta(t, 0.2, c.Elapsed(), 1e-9)
}
