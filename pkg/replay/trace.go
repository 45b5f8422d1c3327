package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/weave/pkg/canonicalize"
	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Step records one interaction of a traced replay.
type Step struct {
	Index     int                `json:"index"`
	TxID      string             `json:"tx_id"`
	Height    uint64             `json:"height"`
	InputHash string             `json:"input_hash,omitempty"`
	StateHash string             `json:"state_hash"`
	Validity  contracts.Validity `json:"validity"`
	Duration  time.Duration      `json:"duration"`
}

// Divergence locates the first point where two traces disagree.
type Divergence struct {
	Index  int    `json:"index"`
	TxID   string `json:"tx_id"`
	Detail string `json:"detail"`
}

func (d *Divergence) Error() string {
	return fmt.Sprintf("replay diverged at step %d (%s): %s", d.Index, d.TxID, d.Detail)
}

func (r *Replayer) step(fold *Fold, i int, tx *contracts.Interaction, input json.RawMessage, v contracts.Validity, start time.Time) {
	if !r.opts.Trace {
		return
	}
	s := Step{
		Index:    i,
		TxID:     tx.ID,
		Height:   tx.Block.Height,
		Validity: v,
		Duration: time.Since(start),
	}
	if input != nil {
		s.InputHash = canonicalize.InputDigest(input)
	}
	digest, err := canonicalize.StateDigest(fold.State)
	if err != nil {
		r.logger.Warn("state digest failed", "tx_id", tx.ID, "error", err)
	}
	s.StateHash = digest
	fold.Steps = append(fold.Steps, s)
}

// Compare checks two traces of the same interaction list and returns the
// first divergence, or nil when they agree on every transaction id, state
// digest and validity.
func Compare(want, got []Step) *Divergence {
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		w, g := want[i], got[i]
		switch {
		case w.TxID != g.TxID:
			return &Divergence{Index: i, TxID: w.TxID, Detail: fmt.Sprintf("expected tx %s, got %s", w.TxID, g.TxID)}
		case w.StateHash != g.StateHash:
			return &Divergence{Index: i, TxID: w.TxID, Detail: fmt.Sprintf("expected state %s, got %s", w.StateHash, g.StateHash)}
		case w.Validity != g.Validity:
			return &Divergence{Index: i, TxID: w.TxID, Detail: fmt.Sprintf("expected validity %v, got %v", w.Validity, g.Validity)}
		}
	}
	if len(want) != len(got) {
		return &Divergence{Index: n, Detail: fmt.Sprintf("expected %d steps, got %d", len(want), len(got))}
	}
	return nil
}

// WriteTrace writes steps as JSON lines.
func WriteTrace(w io.Writer, steps []Step) error {
	enc := json.NewEncoder(w)
	for _, s := range steps {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode step %d: %w", s.Index, err)
		}
	}
	return nil
}

// ReadTrace reads a JSON lines trace written by WriteTrace.
func ReadTrace(r io.Reader) ([]Step, error) {
	dec := json.NewDecoder(r)
	var steps []Step
	for dec.More() {
		var s Step
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}
