package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
	"github.com/Mindburn-Labs/weave/pkg/kv"
	"github.com/Mindburn-Labs/weave/pkg/replay"
	"github.com/Mindburn-Labs/weave/pkg/runtime/evm"
	"github.com/Mindburn-Labs/weave/pkg/runtime/sandbox"
	"github.com/Mindburn-Labs/weave/pkg/runtime/shim"
	"github.com/Mindburn-Labs/weave/pkg/runtime/wasm"
)

// env holds the host-side state of one evaluation. Every runtime built for
// the evaluation, including evolved ones, shares it.
type env struct {
	settings contracts.Settings
	kv       *kv.Namespace
	fetch    *fetchcache.Cache
	reads    atomic.Int64
	closers  []func(context.Context) error
}

func (e *Executor) newEnv(job *evaluation) (*env, error) {
	ns := kv.New()
	switch {
	case job.exm != nil && job.exm.KV != nil:
		ns = kv.FromMap(job.exm.KV, job.kvOrder)
	case e.kv != nil:
		loaded, err := e.kv.Load(job.contract.ID)
		switch {
		case err == nil:
			ns = loaded
		case !errors.Is(err, kv.ErrSnapshotNotFound):
			return nil, fmt.Errorf("load kv snapshot: %w", err)
		}
	}

	var seed map[string]contracts.FetchRecord
	if job.exm != nil {
		seed = job.exm.Requests
	}
	fetch := fetchcache.New(e.fetcher, seed)
	if job.settings.LazyEvaluation {
		fetch = fetchcache.NewLazy(seed)
	}
	return &env{settings: job.settings, kv: ns, fetch: fetch}, nil
}

// close releases every runtime built for the evaluation.
func (v *env) close(ctx context.Context) {
	for i := len(v.closers) - 1; i >= 0; i-- {
		_ = v.closers[i](ctx)
	}
	v.closers = nil
}

// build dispatches on the contract's content type. Each variant implements
// replay.Runtime; nothing downstream inspects the type again.
func (e *Executor) build(ctx context.Context, c *contracts.ContractSource, state json.RawMessage, v *env) (replay.Runtime, error) {
	logger := e.logger.With("contract_id", c.ID, "content_type", string(c.ContentType))

	switch c.ContentType {
	case contracts.ContentTypeScript:
		sb, err := sandbox.Create(ctx, sandbox.Config{
			Source:   string(c.Source),
			Contract: shim.ContractInfo{ID: c.ID, Owner: c.Owner},
			Settings: v.settings,
			KV:       v.kv,
			Fetch:    v.fetch,
			Print: func(msg string) {
				logger.Debug("contract print", "message", msg)
			},
			Logger: logger.With("component", "sandbox"),
		})
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, func(context.Context) error {
			sb.Destroy()
			return nil
		})
		return &scriptRuntime{sb: sb, contractID: c.ID, fcp: e.fcp, limits: e.limits, reads: &v.reads}, nil

	case contracts.ContentTypeWasm:
		rt, err := wasm.New(ctx, c.Source, wasm.Config{
			ContractID: c.ID,
			Limits:     e.limits,
			ReadState:  e.stateReader(c.ID, v),
			Logger:     logger.With("component", "wasm"),
		})
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, rt.Close)
		return rt, nil

	case contracts.ContentTypeEVM:
		rt, err := evm.New(ctx, c.Source, state, evm.Config{
			ContractID: c.ID,
			Limits:     e.limits,
			Logger:     logger.With("component", "evm"),
		})
		if err != nil {
			return nil, err
		}
		return rt, nil

	default:
		return nil, contracts.NewError(contracts.CodeUnsupportedContractType, "unsupported contract content type %q", c.ContentType)
	}
}

// stateReader serves smartweave_read_state for WASM contracts.
func (e *Executor) stateReader(caller string, v *env) wasm.StateReader {
	return func(ctx context.Context, contractID string) (json.RawMessage, error) {
		v.reads.Add(1)
		resp := e.fcp.Resolve(ctx, caller, sandbox.ForeignCallRequest{ContractID: contractID})
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.State, nil
	}
}

// inputFunc returns how interaction inputs are decoded for a content type.
// Nil selects the replayer's JSON default.
func inputFunc(ct contracts.ContentType) func(*contracts.Interaction) (json.RawMessage, error) {
	if ct == contracts.ContentTypeEVM {
		return evm.Input
	}
	return nil
}

// evolveRequest is the part of a contract state that asks for new code.
type evolveRequest struct {
	CanEvolve bool   `json:"canEvolve"`
	Evolve    string `json:"evolve"`
}

// evolution reports the source c should switch to given state, or nil when
// the state does not request a change.
func (e *Executor) evolution(ctx context.Context, c *contracts.ContractSource, state json.RawMessage) (*contracts.ContractSource, error) {
	var req evolveRequest
	if err := json.Unmarshal(state, &req); err != nil {
		return nil, nil
	}
	if !req.CanEvolve || req.Evolve == "" || req.Evolve == c.SourceID {
		return nil, nil
	}
	src, err := e.loader.LoadSource(ctx, req.Evolve)
	if err != nil {
		return nil, fmt.Errorf("load evolved source %s: %w", req.Evolve, err)
	}
	e.logger.Info("contract evolving", "contract_id", c.ID, "from", c.SourceID, "to", src.ID)
	return c.WithSource(src.ID, src.ContentType, src.Code), nil
}
