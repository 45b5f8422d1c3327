package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXorShift128Plus_KnownSequence(t *testing.T) {
	rng := NewXorShift128Plus()

	// First values for the fixed seed.
	assert.Equal(t, 0.3800000002095474, rng.Float64())
	assert.Equal(t, 0.1933761369163034, rng.Float64())
	assert.Equal(t, 0.1952727923034432, rng.Float64())
	assert.Equal(t, uint64(3), rng.Calls())
}

func TestXorShift128Plus_FreshInstancesAgree(t *testing.T) {
	a := NewXorShift128Plus()
	b := NewXorShift128Plus()
	for i := 0; i < 1000; i++ {
		require.Equal(t, a.Uint64(), b.Uint64(), "draw %d", i)
	}
}

func TestXorShift128Plus_Range(t *testing.T) {
	rng := NewXorShift128Plus()
	for i := 0; i < 10000; i++ {
		f := rng.Float64()
		if f < 0 || f >= 1 {
			t.Fatalf("Float64() = %v, want [0, 1)", f)
		}
	}
	if rng.Intn(0) != 0 {
		t.Error("Intn(0) should return 0")
	}
	n := rng.Intn(10)
	assert.True(t, n >= 0 && n < 10)
}

func TestDeterministicClock_PRNGSuite(t *testing.T) {
	c := NewDeterministicClock(0)
	assert.Equal(t, DefaultEpochMillis, c.NowMillis())

	c.BindBlock(1650000000)
	assert.Equal(t, int64(1650000000000), c.NowMillis())
	assert.Equal(t, 2022, c.Now().Year())

	c.Unbind()
	assert.Equal(t, DefaultEpochMillis, c.NowMillis())

	pinned := NewDeterministicClock(42)
	pinned.BindBlock(1650000000)
	assert.Equal(t, int64(1650000000000), pinned.NowMillis())
	assert.Equal(t, int64(42), pinned.DateMillis())
}

func TestDeterministicClock_ElapsedPRNGSuite(t *testing.T) {
	c := NewDeterministicClock(0)
	assert.Equal(t, 0.0, c.Elapsed())
	assert.Equal(t, 0.1, c.Elapsed())
	assert.Equal(t, 0.2, c.Elapsed())
	third := c.Elapsed()
	assert.Greater(t, third, 0.2)
}
