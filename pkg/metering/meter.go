// Package metering accounts for what evaluations cost. GasMeter bounds the
// gas a WASM contract charges during one run; a Meter keeps per-contract
// usage events written once an evaluation finishes.
package metering

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptyContractID  = errors.New("metering: contract_id must not be empty")
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
	// ErrGasLimitExceeded is returned once a bounded GasMeter passes its ceiling.
	ErrGasLimitExceeded = errors.New("metering: gas limit exceeded")
)

// EventType names what an Event counts.
type EventType string

const (
	EventEvaluation  EventType = "evaluation"   // finished evaluations
	EventInteraction EventType = "interaction"  // interactions replayed
	EventGas         EventType = "gas"          // gas charged by WASM code
	EventForeignRead EventType = "foreign_read" // readContractState calls
	EventFetch       EventType = "fetch"        // deterministic fetches served
)

// Event is one usage sample for a contract. Metadata carries the run id and
// height of the evaluation that produced it.
type Event struct {
	ContractID string         `json:"contract_id"`
	EventType  EventType      `json:"event_type"`
	Quantity   int64          `json:"quantity"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (e Event) Validate() error {
	switch {
	case e.ContractID == "":
		return ErrEmptyContractID
	case e.Quantity < 0:
		return ErrNegativeQuantity
	case e.EventType == "":
		return ErrInvalidEventType
	}
	return nil
}

// stamped returns e with a zero Timestamp replaced by now.
func (e Event) stamped(now time.Time) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}

// Period is the half-open interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// DailyPeriod covers the current UTC day.
func DailyPeriod() Period {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	return Period{Start: day, End: day.Add(24 * time.Hour)}
}

// Usage sums a contract's events per type over a period.
type Usage struct {
	ContractID string
	Period     Period
	Totals     map[EventType]int64
	LastUpdate time.Time
}

func newUsage(contractID string, period Period) *Usage {
	return &Usage{
		ContractID: contractID,
		Period:     period,
		Totals:     make(map[EventType]int64),
		LastUpdate: time.Now().UTC(),
	}
}

// Meter stores usage events and answers aggregate queries over them.
type Meter interface {
	Record(ctx context.Context, event Event) error
	// RecordBatch stores all of events or none of them.
	RecordBatch(ctx context.Context, events []Event) error
	GetUsage(ctx context.Context, contractID string, period Period) (*Usage, error)
	GetUsageByType(ctx context.Context, contractID string, eventType EventType, period Period) (int64, error)
}
