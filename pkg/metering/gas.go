package metering

import (
	"fmt"
	"sync/atomic"
)

// GasMeter counts gas reported by a contract. Without a limit it is purely
// advisory: Consume never fails and the total is reported with the result.
type GasMeter struct {
	used  atomic.Uint64
	limit uint64
}

// NewGasMeter returns a meter. A zero limit disables the ceiling.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume adds n and fails once the total passes the ceiling. The gas is
// counted either way.
func (m *GasMeter) Consume(n uint64) error {
	total := m.used.Add(n)
	if m.limit > 0 && total > m.limit {
		return fmt.Errorf("%w: used %d of %d", ErrGasLimitExceeded, total, m.limit)
	}
	return nil
}

// Used returns the gas consumed so far.
func (m *GasMeter) Used() uint64 { return m.used.Load() }

// Limit returns the ceiling, zero when unlimited.
func (m *GasMeter) Limit() uint64 { return m.limit }

// Remaining returns the gas left under the ceiling, or ^uint64(0) when unlimited.
func (m *GasMeter) Remaining() uint64 {
	if m.limit == 0 {
		return ^uint64(0)
	}
	used := m.used.Load()
	if used >= m.limit {
		return 0
	}
	return m.limit - used
}

// Reset clears the counter and returns the previous total.
func (m *GasMeter) Reset() uint64 {
	return m.used.Swap(0)
}
