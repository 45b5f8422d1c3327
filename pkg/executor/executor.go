// Package executor evaluates contracts. It loads a contract and its
// interactions, builds the runtime the content type calls for, and folds
// the interactions through it. Foreign reads re-enter the executor through
// the fcp coordinator as nested evaluations.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/weave/pkg/artifacts"
	"github.com/Mindburn-Labs/weave/pkg/canonicalize"
	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/fcp"
	"github.com/Mindburn-Labs/weave/pkg/fetchcache"
	"github.com/Mindburn-Labs/weave/pkg/kv"
	"github.com/Mindburn-Labs/weave/pkg/loader"
	"github.com/Mindburn-Labs/weave/pkg/lock"
	"github.com/Mindburn-Labs/weave/pkg/metering"
	"github.com/Mindburn-Labs/weave/pkg/observability"
	"github.com/Mindburn-Labs/weave/pkg/replay"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
)

// ErrNoLoader is returned by New without a loader.
var ErrNoLoader = errors.New("executor: loader is required")

// ErrActionWithInteractions is returned for a SimulateRequest that sets both
// an Action and Interactions.
var ErrActionWithInteractions = errors.New("executor: a simulated action cannot be combined with interactions")

// Options configures an Executor. Only Loader is required; nil stores
// disable caching and persistence.
type Options struct {
	Loader      loader.Loader
	Settings    contracts.Settings
	Limits      budget.Limits
	MaxFCPDepth int
	// Fetcher performs live deterministic fetches.
	Fetcher fetchcache.Fetcher
	// Locker serializes top-level evaluations of one (contract, height).
	// Defaults to an in-process keyed lock.
	Locker    lock.Locker
	Results   ResultStore
	Snapshots SnapshotStore
	KV        KVSnapshots
	Meter     metering.Meter
	Telemetry *observability.Provider
	Logger    *slog.Logger
}

// Executor evaluates contracts. It is safe for concurrent use; every
// evaluation owns its runtimes, KV namespace and fetch cache.
type Executor struct {
	loader    loader.Loader
	settings  contracts.Settings
	limits    budget.Limits
	fetcher   fetchcache.Fetcher
	locker    lock.Locker
	results   ResultStore
	snapshots SnapshotStore
	kv        KVSnapshots
	meter     metering.Meter
	telemetry *observability.Provider
	fcp       *fcp.Coordinator
	logger    *slog.Logger
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Loader == nil {
		return nil, ErrNoLoader
	}
	e := &Executor{
		loader:    opts.Loader,
		settings:  opts.Settings,
		limits:    opts.Limits.Merge(budget.Default()),
		fetcher:   opts.Fetcher,
		locker:    opts.Locker,
		results:   opts.Results,
		snapshots: opts.Snapshots,
		kv:        opts.KV,
		meter:     opts.Meter,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "executor")
	}
	if e.locker == nil {
		e.locker = lock.NewKeyed()
	}
	if e.telemetry == nil {
		e.telemetry = observability.Disabled()
	}
	e.fcp = fcp.New(e, fcp.WithMaxDepth(opts.MaxFCPDepth))
	return e, nil
}

// evaluation is one fold to run.
type evaluation struct {
	runID        string
	contract     *contracts.ContractSource
	state        json.RawMessage
	interactions []contracts.Interaction
	settings     contracts.Settings
	exm          *contracts.ExmContext
	kvOrder      []string
	// tip is the highest block height among the loaded interactions.
	tip   uint64
	trace bool
}

// stats summarizes a finished fold for metering and the result index.
type stats struct {
	interactions int
	valid        int
	reads        int64
	fetches      int
	duration     time.Duration
	steps        []replay.Step
}

// ExecuteContract replays contractID up to height (zero for all known
// interactions) and returns its state and validity. A SimulateConfig adds
// interactions after the loaded ones; simulated runs bypass the result
// cache and are never persisted.
func (e *Executor) ExecuteContract(ctx context.Context, contractID string, height uint64, sim *SimulateConfig) (_ *contracts.EvaluationResult, err error) {
	ctx, done := e.telemetry.TrackOperation(ctx, "execute_contract", observability.Evaluation(contractID, height, 0)...)
	defer func() { done(err) }()

	unlock, err := e.locker.Lock(ctx, lock.Key(contractID, height))
	if err != nil {
		return nil, fmt.Errorf("lock %s@%d: %w", contractID, height, err)
	}
	defer unlock()

	ctx = fcp.Enter(ctx, contractID, height)
	if sim == nil {
		if res, ok := e.cached(ctx, contractID, height); ok {
			observability.SetSpanAttributes(ctx, observability.AttrCached.Bool(true))
			return res, nil
		}
	}

	job, err := e.load(ctx, contractID, height)
	if err != nil {
		return nil, err
	}
	if sim != nil {
		for i := range sim.Interactions {
			job.interactions = append(job.interactions, sim.Interactions[i].Clone())
		}
		if sim.Settings != nil {
			job.settings = *sim.Settings
		}
		job.exm = sim.Exm
	} else if height == 0 {
		if res, ok := e.cachedTip(ctx, job); ok {
			observability.SetSpanAttributes(ctx, observability.AttrCached.Bool(true))
			return res, nil
		}
	}

	res, st, err := e.run(ctx, job)
	if err != nil {
		return nil, err
	}
	e.telemetry.RecordOutcome(ctx, st.interactions, st.valid, res.Gas)
	e.logger.Info("contract evaluated",
		"run_id", job.runID,
		"contract_id", contractID,
		"height", height,
		"interactions", st.interactions,
		"duration_ms", st.duration.Milliseconds(),
	)

	if sim == nil {
		e.persist(ctx, job, height, res)
	}
	e.meterRun(ctx, job, res, st)
	return res, nil
}

// SimulateContract evaluates the supplied interactions only, against the
// supplied or loaded source. Nothing is cached or persisted. A request with
// an Action returns the state and result of that action with a nil
// Validity.
func (e *Executor) SimulateContract(ctx context.Context, req SimulateRequest) (_ *contracts.EvaluationResult, err error) {
	ctx, done := e.telemetry.TrackOperation(ctx, "simulate_contract", observability.Evaluation(req.ContractID, 0, 0)...)
	defer func() { done(err) }()

	if req.Action != nil && len(req.Interactions) > 0 {
		return nil, ErrActionWithInteractions
	}

	var contract contracts.ContractSource
	if req.Source != nil {
		contract = *req.Source
	} else {
		loaded, err := e.loader.LoadContract(ctx, req.ContractID)
		if err != nil {
			return nil, err
		}
		contract = *loaded
	}
	if contract.ID == "" {
		contract.ID = req.ContractID
	}
	if req.InitState != nil {
		contract.InitState = req.InitState
	}

	job := &evaluation{
		runID:    uuid.NewString(),
		contract: &contract,
		state:    contract.InitState,
		settings: e.settings,
		exm:      req.Exm,
	}
	if req.Settings != nil {
		job.settings = *req.Settings
	}
	for i := range req.Interactions {
		job.interactions = append(job.interactions, req.Interactions[i].Clone())
	}

	ctx = fcp.Enter(ctx, contract.ID, 0)
	run := e.run
	if req.Action != nil {
		run = func(ctx context.Context, job *evaluation) (*contracts.EvaluationResult, *stats, error) {
			return e.runAction(ctx, job, *req.Action)
		}
	}
	res, st, err := run(ctx, job)
	if err != nil {
		return nil, err
	}
	e.meterRun(ctx, job, res, st)
	return res, nil
}

// runAction applies one action with no interaction bound. Errors from the
// contract are returned rather than recorded as validity.
func (e *Executor) runAction(ctx context.Context, job *evaluation, act Action) (*contracts.EvaluationResult, *stats, error) {
	start := time.Now()
	v, err := e.newEnv(job)
	if err != nil {
		return nil, nil, err
	}
	defer v.close(context.WithoutCancel(ctx))

	rt, err := e.build(ctx, job.contract, job.state, v)
	if err != nil {
		return nil, nil, err
	}
	input := act.Input
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	out, err := replay.New(replay.Options{
		Logger: e.logger.With("component", "replay", "contract_id", job.contract.ID),
	}).Simulate(ctx, rt, job.state, input, act.Caller)
	if err != nil {
		return nil, nil, fmt.Errorf("simulate %s: %w", job.contract.ID, err)
	}

	fold := &replay.Fold{State: out.State, Result: out.Result, Gas: out.Gas, Updated: out.HasState}
	res := shape(job, job.contract, fold, v)
	return res, &stats{
		reads:    v.reads.Load(),
		fetches:  len(v.fetch.Initiated()),
		duration: time.Since(start),
	}, nil
}

// TraceContract replays contractID from its initial state up to height and
// returns the per-interaction trace alongside the result. It neither reads
// nor writes the result cache.
func (e *Executor) TraceContract(ctx context.Context, contractID string, height uint64) (_ *contracts.EvaluationResult, _ []replay.Step, err error) {
	ctx, done := e.telemetry.TrackOperation(ctx, "trace_contract", observability.Evaluation(contractID, height, 0)...)
	defer func() { done(err) }()

	ctx = fcp.Enter(ctx, contractID, height)
	job, err := e.load(ctx, contractID, height)
	if err != nil {
		return nil, nil, err
	}
	job.trace = true
	res, st, err := e.run(ctx, job)
	if err != nil {
		return nil, nil, err
	}
	e.meterRun(ctx, job, res, st)
	return res, st.steps, nil
}

// Evaluate serves nested foreign reads. It runs with the engine settings,
// fresh host state and no lock, and never persists.
func (e *Executor) Evaluate(ctx context.Context, contractID string, height uint64) (_ json.RawMessage, _ *contracts.ValidityMap, err error) {
	ctx, done := e.telemetry.TrackOperation(ctx, "evaluate_foreign", observability.Evaluation(contractID, height, len(fcp.Chain(ctx))-1)...)
	defer func() { done(err) }()

	if res, ok := e.cached(ctx, contractID, height); ok {
		return res.State, res.Validity, nil
	}
	job, err := e.load(ctx, contractID, height)
	if err != nil {
		return nil, nil, err
	}
	res, st, err := e.run(ctx, job)
	if err != nil {
		return nil, nil, err
	}
	e.meterRun(ctx, job, res, st)
	return res.State, res.Validity, nil
}

func (e *Executor) load(ctx context.Context, contractID string, height uint64) (*evaluation, error) {
	contract, err := e.loader.LoadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	txs, err := e.loader.LoadInteractions(ctx, contractID, height)
	if err != nil {
		return nil, err
	}
	job := &evaluation{
		runID:        uuid.NewString(),
		contract:     contract,
		state:        contract.InitState,
		interactions: txs,
		settings:     e.settings,
	}
	for i := range txs {
		if txs[i].Block.Height > job.tip {
			job.tip = txs[i].Block.Height
		}
	}
	return job, nil
}

func (e *Executor) run(ctx context.Context, job *evaluation) (*contracts.EvaluationResult, *stats, error) {
	start := time.Now()
	v, err := e.newEnv(job)
	if err != nil {
		return nil, nil, err
	}
	defer v.close(context.WithoutCancel(ctx))

	rt, err := e.build(ctx, job.contract, job.state, v)
	if err != nil {
		return nil, nil, err
	}

	current := job.contract
	evolve := func(ctx context.Context, state json.RawMessage) (replay.Runtime, error) {
		next, err := e.evolution(ctx, current, state)
		if err != nil || next == nil {
			return nil, err
		}
		rt, err := e.build(ctx, next, state, v)
		if err != nil {
			return nil, fmt.Errorf("build evolved source %s: %w", next.SourceID, err)
		}
		current = next
		return rt, nil
	}

	fold, err := replay.New(replay.Options{
		ShowErrors: job.settings.ShowErrors,
		Trace:      job.trace,
		Evolve:     evolve,
		Input:      inputFunc(job.contract.ContentType),
		Logger:     e.logger.With("component", "replay", "contract_id", job.contract.ID),
	}).Replay(ctx, rt, job.state, job.interactions)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate %s: %w", job.contract.ID, err)
	}

	res := shape(job, current, fold, v)
	st := &stats{
		interactions: len(job.interactions),
		reads:        v.reads.Load(),
		fetches:      len(v.fetch.Initiated()),
		duration:     time.Since(start),
		steps:        fold.Steps,
	}
	st.valid = countValid(fold.Validity)
	return res, st, nil
}

// shape builds the exported result for the runtime in effect at the end of
// the fold.
func shape(job *evaluation, current *contracts.ContractSource, fold *replay.Fold, v *env) *contracts.EvaluationResult {
	res := &contracts.EvaluationResult{
		State:    fold.State,
		Result:   fold.Result,
		Validity: fold.Validity,
		Gas:      fold.Gas,
		Errors:   fold.Errors,
		Updated:  fold.Updated,
	}
	if current.ContentType == contracts.ContentTypeEVM {
		var store string
		if err := json.Unmarshal(fold.State, &store); err == nil {
			res.Store = store
		}
	}
	if current.ContentType == contracts.ContentTypeScript || job.settings.EXM || job.exm != nil {
		values, order := v.kv.Export()
		res.Exm = &contracts.ExmContext{
			Requests:  v.fetch.Export(),
			KV:        values,
			Initiated: v.fetch.Initiated(),
		}
		res.KVOrder = order
	}

	return res
}

// cached returns the stored result for an explicit height.
func (e *Executor) cached(ctx context.Context, contractID string, height uint64) (*contracts.EvaluationResult, bool) {
	if height == 0 || e.results == nil || e.snapshots == nil {
		return nil, false
	}
	rec, err := e.results.Get(ctx, contractID, height)
	if err != nil {
		e.logger.Warn("result lookup failed", "contract_id", contractID, "height", height, "error", err)
		return nil, false
	}
	return e.fromRecord(ctx, contractID, rec)
}

// cachedTip serves a height-0 request from the latest stored result when
// that result already covers every loaded interaction. A checkpoint that
// covers only a prefix is never resumed from: a script's PRNG, clock steps
// and module-level variables live in the sandbox heap, which a snapshot
// does not carry.
func (e *Executor) cachedTip(ctx context.Context, job *evaluation) (*contracts.EvaluationResult, bool) {
	if e.results == nil || e.snapshots == nil || job.tip == 0 {
		return nil, false
	}
	id := job.contract.ID
	rec, err := e.results.Latest(ctx, id, 0)
	if err != nil {
		e.logger.Warn("result lookup failed", "contract_id", id, "error", err)
		return nil, false
	}
	if rec == nil || rec.Height < job.tip || rec.Interactions != len(job.interactions) {
		return nil, false
	}
	return e.fromRecord(ctx, id, rec)
}

func (e *Executor) fromRecord(ctx context.Context, contractID string, rec *contracts.EvaluationRecord) (*contracts.EvaluationResult, bool) {
	if rec == nil || rec.SnapshotRef == "" {
		return nil, false
	}
	snap, err := e.snapshots.Load(ctx, rec.SnapshotRef)
	if err != nil {
		e.logger.Warn("snapshot load failed", "contract_id", contractID, "ref", rec.SnapshotRef, "error", err)
		return nil, false
	}
	if snap.ContractID != contractID || snap.Result == nil {
		return nil, false
	}
	e.logger.Debug("result cache hit", "contract_id", contractID, "height", rec.Height, "run_id", rec.RunID)
	return snap.Result, true
}

// persist saves the KV namespace, the snapshot and the index record of a
// top-level evaluation. Failures are logged; the result stands.
func (e *Executor) persist(ctx context.Context, job *evaluation, height uint64, res *contracts.EvaluationResult) {
	id := job.contract.ID
	if e.kv != nil && res.Exm != nil {
		if err := e.kv.Save(id, kv.FromMap(res.Exm.KV, res.KVOrder)); err != nil {
			e.logger.Warn("kv snapshot save failed", "contract_id", id, "error", err)
		}
	}

	at := height
	if at == 0 {
		at = job.tip
	}
	if at == 0 || e.results == nil || e.snapshots == nil {
		return
	}
	ref, err := e.snapshots.Save(ctx, &artifacts.Snapshot{ContractID: id, Height: at, Result: res})
	if err != nil {
		e.logger.Warn("snapshot save failed", "contract_id", id, "height", at, "error", err)
		return
	}
	digest, err := canonicalize.StateDigest(res.State)
	if err != nil {
		e.logger.Warn("state digest failed", "contract_id", id, "error", err)
	}
	rec := &contracts.EvaluationRecord{
		RunID:        job.runID,
		ContractID:   id,
		Height:       at,
		ContentType:  job.contract.ContentType,
		StateDigest:  digest,
		SnapshotRef:  ref,
		Interactions: res.Validity.Len(),
		Valid:        countValid(res.Validity),
		Gas:          res.Gas,
		EvaluatedAt:  time.Now().UTC(),
	}
	if err := e.results.Put(ctx, rec); err != nil {
		e.logger.Warn("result record failed", "contract_id", id, "height", at, "error", err)
	}
}

// meterRun records usage events for a finished fold.
func (e *Executor) meterRun(ctx context.Context, job *evaluation, res *contracts.EvaluationResult, st *stats) {
	if e.meter == nil {
		return
	}
	now := time.Now().UTC()
	md := map[string]any{"run_id": job.runID, "content_type": string(job.contract.ContentType)}
	event := func(t metering.EventType, q int64) metering.Event {
		return metering.Event{ContractID: job.contract.ID, EventType: t, Quantity: q, Timestamp: now, Metadata: md}
	}
	events := []metering.Event{
		event(metering.EventEvaluation, 1),
		event(metering.EventInteraction, int64(st.interactions)),
	}
	if res.Gas > 0 {
		events = append(events, event(metering.EventGas, int64(res.Gas)))
	}
	if st.reads > 0 {
		events = append(events, event(metering.EventForeignRead, st.reads))
	}
	if st.fetches > 0 {
		events = append(events, event(metering.EventFetch, int64(st.fetches)))
	}
	if err := e.meter.RecordBatch(ctx, events); err != nil {
		e.logger.Warn("metering failed", "contract_id", job.contract.ID, "error", err)
	}
}

func countValid(m *contracts.ValidityMap) int {
	n := 0
	for _, id := range m.Keys() {
		if v, _ := m.Get(id); v.Valid {
			n++
		}
	}
	return n
}
