// Package kernel provides the deterministic primitives injected into every
// contract sandbox: a fixed-seed PRNG, a ledger-driven clock and exact
// decimal arithmetic for currency units.
package kernel

import (
	"math"
	"sync"
)

// seedWord is 0.69 * 2^32 truncated to a signed 32-bit integer, the seed
// used for every half of the xorshift128+ state.
const seedWord uint64 = 0xB0A3D70A

const (
	// DefaultSeed0 and DefaultSeed1 are the fixed initial states.
	DefaultSeed0 = seedWord<<32 | seedWord
	DefaultSeed1 = seedWord<<32 | seedWord
)

// XorShift128Plus is a xorshift128+ generator with a fixed seed. Every
// fresh instance yields the same sequence, so two sandboxes issuing the
// same calls observe identical values.
type XorShift128Plus struct {
	mu      sync.Mutex
	state0  uint64
	state1  uint64
	counter uint64
}

// NewXorShift128Plus returns a generator at the default seed.
func NewXorShift128Plus() *XorShift128Plus {
	return NewXorShift128PlusSeeded(DefaultSeed0, DefaultSeed1)
}

// NewXorShift128PlusSeeded returns a generator with an explicit state.
func NewXorShift128PlusSeeded(s0, s1 uint64) *XorShift128Plus {
	return &XorShift128Plus{state0: s0, state1: s1}
}

// Uint64 returns the next raw 64-bit output (s0 + s1 before the update).
func (x *XorShift128Plus) Uint64() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.next()
}

func (x *XorShift128Plus) next() uint64 {
	s1 := x.state0
	s0 := x.state1
	res := s0 + s1
	x.state0 = s0
	s1 ^= s1 << 23
	x.state1 = s1 ^ s0 ^ (s1 >> 18) ^ (s0 >> 5)
	x.counter++
	return res
}

// Float64 returns a value in [0, 1) built from the high 32 bits and the
// top 20 of the low 32 bits of the raw output. The arithmetic matches a
// JavaScript host exactly; each product is rounded before the sum.
func (x *XorShift128Plus) Float64() float64 {
	res := x.Uint64()
	hi := float64(uint32(res >> 32))
	lo := float64(uint32(res) >> 12)
	a := float64(hi * 2.3283064365386963e-10)
	b := float64(lo * 2.220446049250313e-16)
	return a + b
}

// Intn returns a deterministic int in [0, n).
func (x *XorShift128Plus) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(x.Float64() * float64(n)))
}

// Calls returns the number of values drawn so far.
func (x *XorShift128Plus) Calls() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.counter
}
