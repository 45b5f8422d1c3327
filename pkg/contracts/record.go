package contracts

import "time"

// EvaluationRecord indexes one completed evaluation. The full result lives
// in a snapshot addressed by SnapshotRef.
type EvaluationRecord struct {
	RunID        string      `json:"run_id"`
	ContractID   string      `json:"contract_id"`
	Height       uint64      `json:"height"`
	ContentType  ContentType `json:"content_type"`
	StateDigest  string      `json:"state_digest"`
	SnapshotRef  string      `json:"snapshot_ref,omitempty"`
	Interactions int         `json:"interactions"`
	Valid        int         `json:"valid"`
	Gas          uint64      `json:"gas,omitempty"`
	EvaluatedAt  time.Time   `json:"evaluated_at"`
}
