// Package replay folds an ordered interaction list through a contract
// runtime. The fold is strictly sequential: each interaction sees the state
// left by the previous one, and a failing interaction is recorded in the
// validity map without touching state or stopping the fold.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Action is one call into a contract.
type Action struct {
	Input  json.RawMessage
	Caller string
	// Interaction is nil for ad-hoc simulation.
	Interaction *contracts.Interaction
}

// Outcome is what a runtime produced for one Action.
type Outcome struct {
	State    json.RawMessage
	HasState bool
	Result   json.RawMessage
	Gas      uint64
}

// Runtime applies actions to state. Script, WASM and EVM contracts all
// implement it. A returned error is an in-interaction failure unless it is
// wrapped with Fatal.
type Runtime interface {
	Apply(ctx context.Context, state json.RawMessage, action Action) (Outcome, error)
}

// FatalError aborts the whole evaluation instead of invalidating one
// interaction.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as evaluation-level. Nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err must abort the evaluation.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// EvolveFunc is consulted after every state-changing interaction. It
// returns a replacement runtime when the new state requests an evolution,
// or nil to keep the current one.
type EvolveFunc func(ctx context.Context, state json.RawMessage) (Runtime, error)

// Options configures a Replayer.
type Options struct {
	// ShowErrors records the error string as validity instead of false.
	ShowErrors bool
	Evolve     EvolveFunc
	// Input extracts the action input of an interaction. Defaults to
	// parsing the Input tag as JSON.
	Input func(tx *contracts.Interaction) (json.RawMessage, error)
	// Trace records a Step with a state digest per interaction.
	Trace  bool
	Logger *slog.Logger
}

// Fold is the outcome of a replay.
type Fold struct {
	State    json.RawMessage
	Validity *contracts.ValidityMap
	// Result is the last result returned by a valid interaction.
	Result json.RawMessage
	// Errors lists in-interaction failure messages in replay order.
	Errors []string
	// Updated is true when at least one interaction returned a new state.
	Updated bool
	Gas     uint64
	// Runtime is the runtime in effect at the end, after any evolution.
	Runtime Runtime
	Steps   []Step
}

// Replayer runs folds. It holds no per-evaluation state and may be shared.
type Replayer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Replayer.
func New(opts Options) *Replayer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "replay")
	}
	if opts.Input == nil {
		opts.Input = (*contracts.Interaction).Input
	}
	return &Replayer{opts: opts, logger: logger}
}

// Replay folds interactions, in the order given, over initState.
func (r *Replayer) Replay(ctx context.Context, rt Runtime, initState json.RawMessage, interactions []contracts.Interaction) (*Fold, error) {
	fold := &Fold{
		State:    append(json.RawMessage(nil), initState...),
		Validity: contracts.NewValidityMap(),
		Runtime:  rt,
	}

	for i := range interactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx := &interactions[i]
		start := time.Now()

		input, err := r.opts.Input(tx)
		if err != nil {
			r.logger.Debug("interaction skipped", "tx_id", tx.ID, "error", err)
			fold.Validity.Set(tx.ID, contracts.Invalid)
			fold.Errors = append(fold.Errors, err.Error())
			r.step(fold, i, tx, nil, contracts.Invalid, start)
			continue
		}

		out, err := fold.Runtime.Apply(ctx, fold.State, Action{Input: input, Caller: tx.Owner, Interaction: tx})
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("interaction %s: %w", tx.ID, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			v := r.invalid(err)
			r.logger.Debug("interaction invalid", "tx_id", tx.ID, "error", err)
			fold.Validity.Set(tx.ID, v)
			fold.Errors = append(fold.Errors, err.Error())
			r.step(fold, i, tx, input, v, start)
			continue
		}

		fold.Gas += out.Gas
		if out.Result != nil {
			fold.Result = out.Result
		}
		if out.HasState {
			fold.State = out.State
			fold.Updated = true
		}
		fold.Validity.Set(tx.ID, contracts.Valid)
		r.step(fold, i, tx, input, contracts.Valid, start)

		if out.HasState && r.opts.Evolve != nil {
			next, err := r.opts.Evolve(ctx, fold.State)
			if err != nil {
				return nil, fmt.Errorf("evolve after %s: %w", tx.ID, err)
			}
			if next != nil {
				r.logger.Info("contract evolved", "tx_id", tx.ID)
				fold.Runtime = next
			}
		}
	}
	return fold, nil
}

// Simulate applies a single action with no interaction context and no
// validity tracking. Errors are returned as-is.
func (r *Replayer) Simulate(ctx context.Context, rt Runtime, state json.RawMessage, input json.RawMessage, caller string) (Outcome, error) {
	out, err := rt.Apply(ctx, state, Action{Input: input, Caller: caller})
	if err != nil {
		return Outcome{}, err
	}
	if !out.HasState {
		out.State = state
	}
	return out, nil
}

func (r *Replayer) invalid(err error) contracts.Validity {
	if r.opts.ShowErrors {
		return contracts.InvalidWith(err.Error())
	}
	return contracts.Invalid
}
