package executor

import (
	"encoding/json"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// SimulatedInteraction describes an interaction that never reached the
// ledger. Missing block fields default to zero.
type SimulatedInteraction struct {
	ID             string          `json:"id" yaml:"id"`
	Owner          string          `json:"owner" yaml:"owner"`
	Target         string          `json:"target,omitempty" yaml:"target,omitempty"`
	Quantity       string          `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Reward         string          `json:"reward,omitempty" yaml:"reward,omitempty"`
	Tags           []contracts.Tag `json:"tags,omitempty" yaml:"tags,omitempty"`
	BlockHeight    uint64          `json:"block_height,omitempty" yaml:"block_height,omitempty"`
	BlockID        string          `json:"block_id,omitempty" yaml:"block_id,omitempty"`
	BlockTimestamp int64           `json:"block_timestamp,omitempty" yaml:"block_timestamp,omitempty"`
	Input          json.RawMessage `json:"input" yaml:"-"`
}

// Interaction converts s. Its input becomes the Input tag, replacing any
// Input tag already present.
func (s SimulatedInteraction) Interaction() contracts.Interaction {
	tags := make([]contracts.Tag, 0, len(s.Tags)+1)
	for _, t := range s.Tags {
		if t.Name != contracts.InputTag {
			tags = append(tags, t)
		}
	}
	tags = append(tags, contracts.Tag{Name: contracts.InputTag, Value: string(s.Input)})
	return contracts.Interaction{
		ID:       s.ID,
		Owner:    s.Owner,
		Target:   s.Target,
		Quantity: s.Quantity,
		Reward:   s.Reward,
		Tags:     tags,
		Block: contracts.Block{
			Height:    s.BlockHeight,
			ID:        s.BlockID,
			Timestamp: s.BlockTimestamp,
		},
	}
}

// Interactions converts a batch in order.
func Interactions(sims []SimulatedInteraction) []contracts.Interaction {
	out := make([]contracts.Interaction, 0, len(sims))
	for _, s := range sims {
		out = append(out, s.Interaction())
	}
	return out
}
