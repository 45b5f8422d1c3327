// Package wasm runs WebAssembly contracts on wazero. A contract exports
// memory, _alloc, get_len and
//
//	handle(statePtr, stateLen, actionPtr, actionLen, interactionPtr, interactionLen) -> resultPtr
//
// and may import env.abort, the "3em" host functions consumeGas and
// smartweave_read_state, and WASI. Nothing else reaches the host: no
// filesystem, no environment, no real clock or entropy.
package wasm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/metering"
	"github.com/Mindburn-Labs/weave/pkg/replay"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
	"github.com/Mindburn-Labs/weave/pkg/runtime/shim"
)

// HostModule is the import namespace of the engine's host functions.
const HostModule = "3em"

// StateReader returns the replayed state of another contract.
type StateReader func(ctx context.Context, contractID string) (json.RawMessage, error)

// Config configures a Runtime.
type Config struct {
	ContractID string
	Limits     budget.Limits
	// ReadState serves smartweave_read_state. Nil makes every read fail.
	ReadState StateReader
	Logger    *slog.Logger
}

// Runtime is one instantiated WASM contract. Linear memory persists across
// interactions, as it does for the contract's own allocator.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	rt     wazero.Runtime
	mod    api.Module
	alloc  api.Function
	handle api.Function
	getLen api.Function

	mu      sync.Mutex
	meter   *metering.GasMeter
	hostErr error
	fatal   error
	gas     uint64
}

// New compiles and instantiates code.
func New(ctx context.Context, code []byte, cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "wasm", "contract_id", cfg.ContractID)
	}
	r := &Runtime{cfg: cfg, logger: logger, meter: metering.NewGasMeter(cfg.Limits.GasLimit)}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if pages := cfg.Limits.MemoryPages(); pages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}
	r.rt = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if err := r.instantiate(ctx, code); err != nil {
		_ = r.rt.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) instantiate(ctx context.Context, code []byte) error {
	wasi_snapshot_preview1.MustInstantiate(ctx, r.rt)

	_, err := r.rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(r.abort).Export("abort").
		Instantiate(ctx)
	if err != nil {
		return compileError("env imports: %v", err)
	}
	_, err = r.rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(r.consumeGas).Export("consumeGas").
		NewFunctionBuilder().WithFunc(r.readState).Export("smartweave_read_state").
		Instantiate(ctx)
	if err != nil {
		return compileError("host imports: %v", err)
	}

	compiled, err := r.rt.CompileModule(ctx, code)
	if err != nil {
		return compileError("compilation failed: %v", err)
	}
	// No WithFSConfig, WithSysWalltime, WithSysNanotime or WithRandSource:
	// wazero's defaults for those are empty or deterministic.
	modCfg := wazero.NewModuleConfig().
		WithName("contract").
		WithStartFunctions("_initialize")
	r.mod, err = r.rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return compileError("instantiation failed: %v", err)
	}

	exports := []struct {
		name string
		fn   *api.Function
	}{{"_alloc", &r.alloc}, {"handle", &r.handle}, {"get_len", &r.getLen}}
	for _, e := range exports {
		if *e.fn = r.mod.ExportedFunction(e.name); *e.fn == nil {
			return compileError("module does not export %s", e.name)
		}
	}
	if r.mod.Memory() == nil {
		return compileError("module does not export memory")
	}
	return nil
}

// Apply runs handle once. The returned state replaces the previous one; a
// trap, a failed host call or a non-JSON result invalidates the interaction.
func (r *Runtime) Apply(ctx context.Context, state json.RawMessage, action replay.Action) (replay.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal != nil {
		return replay.Outcome{}, replay.Fatal(r.fatal)
	}

	interaction := shim.InteractionContext{Transaction: shim.Transaction{Tags: []contracts.Tag{}}}
	if action.Interaction != nil {
		interaction = shim.NewInteractionContext(action.Interaction)
	}
	ictx, err := json.Marshal(interaction)
	if err != nil {
		return replay.Outcome{}, fmt.Errorf("encode interaction: %w", err)
	}
	input := action.Input
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	act, err := json.Marshal(struct {
		Input  json.RawMessage `json:"input"`
		Caller string          `json:"caller"`
	}{input, action.Caller})
	if err != nil {
		return replay.Outcome{}, fmt.Errorf("encode action: %w", err)
	}

	callCtx, cancel := r.cfg.Limits.WithDeadline(ctx)
	defer cancel()
	before := r.meter.Used()
	r.hostErr = nil
	start := time.Now()

	out, err := r.call(callCtx, state, act, ictx)
	used := r.meter.Used() - before
	r.gas += used
	if err != nil {
		return replay.Outcome{}, r.classify(ctx, callCtx, err, time.Since(start))
	}
	if err := budget.CheckMemory(r.cfg.Limits, int64(r.mod.Memory().Size())); err != nil {
		return replay.Outcome{}, err
	}
	if !json.Valid(out) {
		return replay.Outcome{}, errors.New("wasm: handle returned a state that is not valid JSON")
	}
	return replay.Outcome{State: out, HasState: true, Gas: used}, nil
}

func (r *Runtime) call(ctx context.Context, state, action, interaction []byte) ([]byte, error) {
	ip, err := r.write(ctx, r.alloc, interaction)
	if err != nil {
		return nil, err
	}
	sp, err := r.write(ctx, r.alloc, state)
	if err != nil {
		return nil, err
	}
	ap, err := r.write(ctx, r.alloc, action)
	if err != nil {
		return nil, err
	}

	res, err := r.handle.Call(ctx,
		uint64(sp), uint64(len(state)),
		uint64(ap), uint64(len(action)),
		uint64(ip), uint64(len(interaction)))
	if err != nil {
		return nil, err
	}
	n, err := r.getLen.Call(ctx)
	if err != nil {
		return nil, err
	}
	view, ok := r.mod.Memory().Read(uint32(res[0]), uint32(n[0]))
	if !ok {
		return nil, fmt.Errorf("wasm: result [%d, +%d) is out of bounds", uint32(res[0]), uint32(n[0]))
	}
	return append([]byte(nil), view...), nil
}

// write copies b into a fresh allocation made by the contract.
func (r *Runtime) write(ctx context.Context, alloc api.Function, b []byte) (uint32, error) {
	res, err := alloc.Call(ctx, uint64(len(b)))
	if err != nil {
		return 0, fmt.Errorf("wasm: _alloc(%d): %w", len(b), err)
	}
	ptr := uint32(res[0])
	if !r.mod.Memory().Write(ptr, b) {
		return 0, fmt.Errorf("wasm: allocation [%d, +%d) is out of bounds", ptr, len(b))
	}
	return ptr, nil
}

func (r *Runtime) classify(ctx, callCtx context.Context, err error, elapsed time.Duration) error {
	if r.fatal != nil {
		return replay.Fatal(r.fatal)
	}
	// An exit closes the module; nothing after it can run.
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch {
		case ctx.Err() != nil:
			r.fatal = ctx.Err()
		case callCtx.Err() != nil:
			r.fatal = budget.CheckTime(r.cfg.Limits, elapsed)
			if r.fatal == nil {
				r.fatal = callCtx.Err()
			}
		default:
			r.fatal = fmt.Errorf("wasm: module exited with code %d", exit.ExitCode())
		}
		return replay.Fatal(r.fatal)
	}
	if r.hostErr != nil {
		return r.hostErr
	}
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return errors.New(msg)
}

// Gas returns the total gas reported across all interactions.
func (r *Runtime) Gas() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gas
}

// Close releases the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

func (r *Runtime) fail(err error) {
	r.hostErr = err
	panic(err)
}

func (r *Runtime) abort(_ context.Context, _ api.Module, msg, file, line, col uint32) {
	r.logger.Debug("contract abort", "message_ptr", msg, "file_ptr", file, "line", line, "column", col)
	r.fail(errors.New("wasm: contract aborted"))
}

func (r *Runtime) consumeGas(_ context.Context, _ api.Module, units uint32) {
	if err := r.meter.Consume(uint64(units)); err != nil {
		r.fail(err)
	}
}

// readState reads a contract id from memory, replays that contract, writes
// its state into a fresh allocation and stores the length at lenPtr.
func (r *Runtime) readState(ctx context.Context, m api.Module, ptr, length, lenPtr uint32) uint32 {
	raw, ok := m.Memory().Read(ptr, length)
	if !ok {
		r.fail(fmt.Errorf("wasm: contract id [%d, +%d) is out of bounds", ptr, length))
	}
	id := string(raw)
	if id == r.cfg.ContractID {
		r.fatal = contracts.NewError(contracts.CodeSelfRead, "contract %s cannot read its own state", id)
		r.fail(r.fatal)
	}
	if r.cfg.ReadState == nil {
		r.fail(fmt.Errorf("wasm: foreign reads are not available (read of %s)", id))
	}
	state, err := r.cfg.ReadState(ctx, id)
	if err != nil {
		r.fail(err)
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(state)))
	if !m.Memory().Write(lenPtr, size[:]) {
		r.fail(fmt.Errorf("wasm: length pointer %d is out of bounds", lenPtr))
	}
	dst, err := r.write(ctx, m.ExportedFunction("_alloc"), state)
	if err != nil {
		r.fail(err)
	}
	return dst
}

func compileError(format string, args ...any) error {
	return &contracts.EvaluationError{Code: contracts.CodeCompileError, Message: "wasm: " + fmt.Sprintf(format, args...)}
}
