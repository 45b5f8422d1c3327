package metering

import (
	"context"
	"sync"
	"time"
)

// MemoryMeter implements Meter in process. It is the default when no
// database is configured.
type MemoryMeter struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryMeter creates an empty in-memory meter.
func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{}
}

func (m *MemoryMeter) Record(ctx context.Context, event Event) error {
	return m.RecordBatch(ctx, []Event{event})
}

// RecordBatch validates every event before storing any of them.
func (m *MemoryMeter) RecordBatch(_ context.Context, events []Event) error {
	now := time.Now().UTC()
	batch := make([]Event, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
		batch = append(batch, e.stamped(now))
	}
	m.mu.Lock()
	m.events = append(m.events, batch...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryMeter) GetUsage(_ context.Context, contractID string, period Period) (*Usage, error) {
	usage := newUsage(contractID, period)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.ContractID == contractID && period.Contains(e.Timestamp) {
			usage.Totals[e.EventType] += e.Quantity
		}
	}
	return usage, nil
}

func (m *MemoryMeter) GetUsageByType(ctx context.Context, contractID string, eventType EventType, period Period) (int64, error) {
	usage, err := m.GetUsage(ctx, contractID, period)
	if err != nil {
		return 0, err
	}
	return usage.Totals[eventType], nil
}
