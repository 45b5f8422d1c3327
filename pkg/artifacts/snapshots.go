package artifacts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Snapshot is the persisted outcome of one evaluation: state, validity
// and the exported KV namespace and fetch records.
type Snapshot struct {
	ContractID string                      `json:"contract_id"`
	Height     uint64                      `json:"height"`
	Result     *contracts.EvaluationResult `json:"result"`
}

// Snapshots stores Snapshot documents in a Store.
type Snapshots struct {
	store Store
}

// NewSnapshots wraps store.
func NewSnapshots(store Store) *Snapshots {
	return &Snapshots{store: store}
}

// Save stores snap and returns its reference. Validity keeps its
// application order, so the encoding is plain JSON rather than canonical.
func (s *Snapshots) Save(ctx context.Context, snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return s.store.Put(ctx, data)
}

// Load returns the snapshot stored under ref.
func (s *Snapshots) Load(ctx context.Context, ref string) (*Snapshot, error) {
	data, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", ref, err)
	}
	return &snap, nil
}
