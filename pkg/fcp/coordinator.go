// Package fcp resolves foreign contract reads. A contract suspended on
// readContractState gets the fully replayed state of another contract at a
// height no later than its own, computed by a nested evaluation.
package fcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/runtime/sandbox"
)

// DefaultMaxDepth bounds nested reads (A reads B reads C ...).
const DefaultMaxDepth = 8

// Evaluator replays a contract up to height. Zero height means the
// latest known height.
type Evaluator interface {
	Evaluate(ctx context.Context, contractID string, height uint64) (json.RawMessage, *contracts.ValidityMap, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, contractID string, height uint64) (json.RawMessage, *contracts.ValidityMap, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, contractID string, height uint64) (json.RawMessage, *contracts.ValidityMap, error) {
	return f(ctx, contractID, height)
}

// Frame is one evaluation on the active read chain.
type Frame struct {
	ContractID string
	Height     uint64
}

type chainKey struct{}

type chain struct {
	frames []Frame
	memo   *memo
}

type memoKey struct {
	id     string
	height uint64
}

type memoEntry struct {
	state    json.RawMessage
	validity *contracts.ValidityMap
}

// memo is shared by every nested read under one top-level evaluation.
type memo struct {
	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

// Coordinator answers ForeignCallRequests.
type Coordinator struct {
	eval     Evaluator
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator backed by eval.
func New(eval Evaluator, opts ...Option) *Coordinator {
	c := &Coordinator{
		eval:     eval,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default().With("component", "fcp"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enter records that contractID is being evaluated at height. Top-level
// evaluations call it once; Resolve calls it for every nested read.
func Enter(ctx context.Context, contractID string, height uint64) context.Context {
	parent, _ := ctx.Value(chainKey{}).(*chain)
	next := &chain{}
	if parent != nil {
		next.frames = append(append([]Frame(nil), parent.frames...), Frame{contractID, height})
		next.memo = parent.memo
	} else {
		next.frames = []Frame{{contractID, height}}
		next.memo = &memo{entries: make(map[memoKey]memoEntry)}
	}
	return context.WithValue(ctx, chainKey{}, next)
}

// Chain returns the active read chain, outermost first.
func Chain(ctx context.Context) []Frame {
	c, _ := ctx.Value(chainKey{}).(*chain)
	if c == nil {
		return nil
	}
	return append([]Frame(nil), c.frames...)
}

// Resolve evaluates the contract named by req on behalf of caller and
// returns the response that resumes the suspended sandbox. Failures are
// carried in the response, so they surface inside the calling interaction.
func (c *Coordinator) Resolve(ctx context.Context, caller string, req sandbox.ForeignCallRequest) sandbox.ForeignCallResponse {
	if req.ContractID == caller {
		return sandbox.ForeignCallResponse{Err: contracts.NewError(contracts.CodeSelfRead, "contract %s cannot read its own state", caller)}
	}

	frames := Chain(ctx)
	for _, f := range frames {
		if f.ContractID == req.ContractID {
			return sandbox.ForeignCallResponse{Err: contracts.NewError(contracts.CodeFCPCycle,
				"read of %s would re-enter %s", req.ContractID, path(frames, req.ContractID))}
		}
	}
	if len(frames) >= c.maxDepth {
		return sandbox.ForeignCallResponse{Err: contracts.NewError(contracts.CodeFCPDepthExceeded,
			"foreign read depth %d exceeds limit %d", len(frames)+1, c.maxDepth)}
	}

	height := c.height(frames, req)
	key := memoKey{req.ContractID, height}
	m := c.memoFrom(ctx)
	if e, ok := m.get(key); ok {
		return sandbox.ForeignCallResponse{State: e.state, Validity: e.validity}
	}

	c.logger.Debug("foreign read", "caller", caller, "contract_id", req.ContractID, "height", height, "depth", len(frames)+1)
	state, validity, err := c.eval.Evaluate(Enter(ctx, req.ContractID, height), req.ContractID, height)
	if err != nil {
		return sandbox.ForeignCallResponse{Err: fmt.Errorf("read %s: %w", req.ContractID, err)}
	}
	m.put(key, memoEntry{state, validity})
	return sandbox.ForeignCallResponse{State: state, Validity: validity}
}

// height picks the reference height: the caller's explicit height, else
// the height of the interaction being applied, capped at the caller's own
// evaluation height.
func (c *Coordinator) height(frames []Frame, req sandbox.ForeignCallRequest) uint64 {
	if req.Height != 0 {
		return req.Height
	}
	var limit uint64
	if len(frames) > 0 {
		limit = frames[len(frames)-1].Height
	}
	h := req.CurrentHeight
	if h == 0 || (limit != 0 && h > limit) {
		h = limit
	}
	return h
}

func (c *Coordinator) memoFrom(ctx context.Context) *memo {
	if ch, _ := ctx.Value(chainKey{}).(*chain); ch != nil {
		return ch.memo
	}
	return &memo{entries: make(map[memoKey]memoEntry)}
}

func (m *memo) get(k memoKey) (memoEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k]
	return e, ok
}

func (m *memo) put(k memoKey, e memoEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = e
}

func path(frames []Frame, next string) string {
	ids := make([]string, 0, len(frames)+1)
	for _, f := range frames {
		ids = append(ids, f.ContractID)
	}
	return strings.Join(append(ids, next), " -> ")
}
