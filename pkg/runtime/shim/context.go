// Package shim builds the deterministic global environment of a script
// sandbox. Ambient globals are removed by allowlist and replaced with
// seeded or ledger-derived equivalents, and contract-visible services are
// injected from an explicit DeterministicContext rather than discovered.
package shim

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
	"github.com/Mindburn-Labs/weave/pkg/kv"
)

// Transaction is the transaction part of an InteractionContext.
type Transaction struct {
	ID       string          `json:"id"`
	Owner    string          `json:"owner"`
	Target   string          `json:"target"`
	Quantity string          `json:"quantity"`
	Reward   string          `json:"reward"`
	Tags     []contracts.Tag `json:"tags"`
}

// BlockInfo is the block part of an InteractionContext.
type BlockInfo struct {
	Height    uint64 `json:"height"`
	ID        string `json:"indep_hash"`
	Timestamp int64  `json:"timestamp"`
}

// ContractInfo identifies the contract being evaluated.
type ContractInfo struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// InteractionContext is the read-only view of the interaction currently
// being applied.
type InteractionContext struct {
	Transaction Transaction `json:"transaction"`
	Block       BlockInfo   `json:"block"`
}

// NewInteractionContext derives the context strictly from one interaction.
func NewInteractionContext(tx *contracts.Interaction) InteractionContext {
	return InteractionContext{
		Transaction: Transaction{
			ID:       tx.ID,
			Owner:    tx.Owner,
			Target:   tx.Target,
			Quantity: tx.Quantity,
			Reward:   tx.Reward,
			Tags:     append([]contracts.Tag{}, tx.Tags...),
		},
		Block: BlockInfo{
			Height:    tx.Block.Height,
			ID:        tx.Block.ID,
			Timestamp: tx.Block.Timestamp,
		},
	}
}

// ForeignRead is a contract's request to read another contract's state.
// Height is zero when the caller did not supply one; CurrentHeight is the
// height of the interaction being applied, zero outside an interaction.
type ForeignRead struct {
	ContractID    string
	Height        uint64
	CurrentHeight uint64
	ShowValidity  bool
}

// ForeignReader resolves a ForeignRead synchronously, blocking the
// contract until the nested evaluation completes.
type ForeignReader func(req ForeignRead) (json.RawMessage, error)

// HostServices are the mutable capabilities handed to contract code.
// Nil members are simply not exposed.
type HostServices struct {
	KV           *kv.Namespace
	Fetch        *fetchcache.Cache
	ReadContract ForeignReader
	Print        func(msg string)
}

// DeterministicContext is everything a fresh sandbox environment is built
// from. It is a plain value; installing it never touches process state.
type DeterministicContext struct {
	Context  context.Context
	Contract ContractInfo
	Settings contracts.Settings
	Services HostServices
	Logger   *slog.Logger
}

func (dc DeterministicContext) ctx() context.Context {
	if dc.Context == nil {
		return context.Background()
	}
	return dc.Context
}

func (dc DeterministicContext) logger() *slog.Logger {
	if dc.Logger == nil {
		return slog.Default().With("component", "shim", "contract_id", dc.Contract.ID)
	}
	return dc.Logger
}
