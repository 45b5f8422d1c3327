// Package budget holds the resource limits applied to WASM and EVM contract
// execution.
package budget

import (
	"context"
	"fmt"
	"time"
)

// Deterministic error codes for limit violations.
const (
	ErrGasExhausted    = "ERR_GAS_EXHAUSTED"
	ErrTimeExhausted   = "ERR_TIME_EXHAUSTED"
	ErrMemoryExhausted = "ERR_MEMORY_EXHAUSTED"
)

const wasmPageSize = 64 * 1024

// Limits bounds one contract runtime. Zero values disable a limit, except
// EVMGasLimit which always applies.
type Limits struct {
	// GasLimit caps gas reported by WASM contracts through consumeGas.
	GasLimit    uint64 `json:"gas_limit" yaml:"gas_limit"`
	EVMGasLimit uint64 `json:"evm_gas_limit" yaml:"evm_gas_limit"`
	// TimeLimitMs bounds a single interaction.
	TimeLimitMs      int64 `json:"time_limit_ms" yaml:"time_limit_ms"`
	MemoryLimitBytes int64 `json:"wasm_memory_limit_bytes" yaml:"wasm_memory_limit_bytes"`
}

// Default returns the engine defaults: advisory WASM gas, a block-sized EVM
// gas allowance, no wall clock limit and 256MB of linear memory.
func Default() Limits {
	return Limits{
		EVMGasLimit:      30_000_000,
		MemoryLimitBytes: 256 * 1024 * 1024,
	}
}

// Merge returns l with every zero field taken from other.
func (l Limits) Merge(other Limits) Limits {
	if l.GasLimit == 0 {
		l.GasLimit = other.GasLimit
	}
	if l.EVMGasLimit == 0 {
		l.EVMGasLimit = other.EVMGasLimit
	}
	if l.TimeLimitMs == 0 {
		l.TimeLimitMs = other.TimeLimitMs
	}
	if l.MemoryLimitBytes == 0 {
		l.MemoryLimitBytes = other.MemoryLimitBytes
	}
	return l
}

// TimeLimit returns the time limit as a Duration.
func (l Limits) TimeLimit() time.Duration {
	return time.Duration(l.TimeLimitMs) * time.Millisecond
}

// MemoryPages converts MemoryLimitBytes to 64KiB WASM pages, rounding down.
// Zero means the runtime default.
func (l Limits) MemoryPages() uint32 {
	if l.MemoryLimitBytes <= 0 {
		return 0
	}
	pages := l.MemoryLimitBytes / wasmPageSize
	if pages < 1 {
		pages = 1
	}
	if pages > 65536 {
		pages = 65536
	}
	return uint32(pages)
}

// WithDeadline derives a context bounded by TimeLimit when one is set.
func (l Limits) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.TimeLimitMs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.TimeLimit())
}

// LimitError is a typed limit violation.
type LimitError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Limit    int64  `json:"limit"`
	Consumed int64  `json:"consumed"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s (limit=%d, consumed=%d)", e.Code, e.Message, e.Limit, e.Consumed)
}

// CheckGas returns a limit error if a WASM gas ceiling is set and passed.
func CheckGas(l Limits, consumed uint64) error {
	if l.GasLimit > 0 && consumed > l.GasLimit {
		return &LimitError{
			Code:     ErrGasExhausted,
			Message:  "gas limit exceeded",
			Limit:    int64(l.GasLimit),
			Consumed: int64(consumed),
		}
	}
	return nil
}

// CheckTime returns a limit error if the interaction ran past TimeLimit.
func CheckTime(l Limits, elapsed time.Duration) error {
	if l.TimeLimitMs > 0 && elapsed.Milliseconds() > l.TimeLimitMs {
		return &LimitError{
			Code:     ErrTimeExhausted,
			Message:  "time limit exceeded",
			Limit:    l.TimeLimitMs,
			Consumed: elapsed.Milliseconds(),
		}
	}
	return nil
}

// CheckMemory returns a limit error if linear memory grew past the limit.
func CheckMemory(l Limits, usedBytes int64) error {
	if l.MemoryLimitBytes > 0 && usedBytes > l.MemoryLimitBytes {
		return &LimitError{
			Code:     ErrMemoryExhausted,
			Message:  "memory limit exceeded",
			Limit:    l.MemoryLimitBytes,
			Consumed: usedBytes,
		}
	}
	return nil
}
