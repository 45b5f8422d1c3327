package executor

import (
	"context"
	"encoding/json"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/kv"
)

// ResultStore indexes completed evaluations by (contract, height).
type ResultStore interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, contractID string, height uint64) (*contracts.EvaluationRecord, error)
	// Latest returns the highest record at or below maxHeight (zero means
	// unbounded), or nil.
	Latest(ctx context.Context, contractID string, maxHeight uint64) (*contracts.EvaluationRecord, error)
	Put(ctx context.Context, record *contracts.EvaluationRecord) error
}

// SnapshotStore holds full evaluation results addressed by reference.
type SnapshotStore interface {
	Save(ctx context.Context, snap *artifacts.Snapshot) (string, error)
	Load(ctx context.Context, ref string) (*artifacts.Snapshot, error)
}

// KVSnapshots persists a contract's KV namespace between evaluations.
// Load returns kv.ErrSnapshotNotFound when nothing was saved.
type KVSnapshots interface {
	Load(contractID string) (*kv.Namespace, error)
	Save(contractID string, ns *kv.Namespace) error
}

// SimulateConfig adds ad-hoc interactions to an ExecuteContract call.
type SimulateConfig struct {
	// Interactions are applied after the loaded ones, in order.
	Interactions []contracts.Interaction
	// Settings replaces the engine settings when set.
	Settings *contracts.Settings
	// Exm seeds the fetch cache and KV namespace.
	Exm *contracts.ExmContext
}

// SimulateRequest evaluates interactions without a ledger lookup for them.
// With Action set it applies that single action instead and keeps no
// validity; Interactions must then be empty.
type SimulateRequest struct {
	ContractID   string
	Interactions []contracts.Interaction
	Action       *Action
	// InitState overrides the contract's init state when set.
	InitState json.RawMessage
	// Source skips the loader entirely when set.
	Source   *contracts.ContractSource
	Settings *contracts.Settings
	Exm      *contracts.ExmContext
}

// Action is one input applied outside any interaction. No transaction or
// block is bound while it runs.
type Action struct {
	Input  json.RawMessage `json:"input"`
	Caller string          `json:"caller"`
}
