// Package evm runs hex-encoded EVM bytecode contracts on go-ethereum's
// standalone runtime. A contract is one account: it is deployed once with
// its init state in storage slot 0, then called once per interaction with
// the interaction input as call data.
package evm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/replay"
	"github.com/Mindburn-Labs/weave/pkg/runtime/budget"
)

// ErrInput is returned when call data is not a hex string.
var ErrInput = errors.New("evm: input must be a hex string")

// Config configures a Runtime.
type Config struct {
	ContractID string
	Limits     budget.Limits
	Logger     *slog.Logger
}

// Runtime holds one deployed contract account and its storage.
type Runtime struct {
	cfg     *runtime.Config
	address common.Address
	logger  *slog.Logger

	mu    sync.Mutex
	slots map[common.Hash]struct{}
}

// New decodes the hex bytecode and deploys it with initState, itself a hex
// word (or a JSON string holding one), stored in slot 0.
func New(_ context.Context, bytecode []byte, initState json.RawMessage, cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "evm", "contract_id", cfg.ContractID)
	}
	code, err := decodeHex(string(bytecode))
	if err != nil {
		return nil, contracts.NewError(contracts.CodeCompileError, "evm: bytecode: %v", err)
	}
	seed, err := initWord(initState)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeCompileError, "evm: init state: %v", err)
	}

	r := &Runtime{logger: logger, slots: make(map[common.Hash]struct{})}
	gas := cfg.Limits.EVMGasLimit
	if gas == 0 {
		gas = budget.Default().EVMGasLimit
	}
	r.cfg = &runtime.Config{
		GasLimit:    gas,
		BlockNumber: new(big.Int),
		Random:      prevRandao(""),
		EVMConfig:   vm.Config{Tracer: &tracing.Hooks{OnOpcode: r.onOpcode}},
	}

	_, addr, _, err := runtime.Create(deployCode(code, seed), r.cfg)
	if err != nil {
		return nil, contracts.NewError(contracts.CodeCompileError, "evm: deploy: %v", err)
	}
	r.address = addr
	return r, nil
}

// Apply calls the contract. On success the state is the hex storage dump
// and the result is the hex return data; a revert or an exceptional halt
// invalidates the interaction and storage is rolled back by the EVM.
func (r *Runtime) Apply(ctx context.Context, _ json.RawMessage, action replay.Action) (replay.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return replay.Outcome{}, err
	}
	var input string
	if err := json.Unmarshal(action.Input, &input); err != nil {
		return replay.Outcome{}, ErrInput
	}
	data, err := decodeHex(input)
	if err != nil {
		return replay.Outcome{}, fmt.Errorf("%w: %v", ErrInput, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.block(action)
	ret, left, err := runtime.Call(r.address, data, r.cfg)
	if err != nil {
		r.logger.Debug("call failed", "error", err)
		return replay.Outcome{}, fmt.Errorf("evm: %w", err)
	}

	state, _ := json.Marshal(r.store())
	result, _ := json.Marshal(hex.EncodeToString(ret))
	return replay.Outcome{State: state, HasState: true, Result: result, Gas: r.cfg.GasLimit - left}, nil
}

// Store returns the current storage as hex.
func (r *Runtime) Store() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store()
}

// Address is the deployed contract account.
func (r *Runtime) Address() common.Address { return r.address }

// Input reads an interaction's Input tag as raw hex call data. It replaces
// JSON input parsing for EVM contracts.
func Input(tx *contracts.Interaction) (json.RawMessage, error) {
	raw, ok := tx.Tag(contracts.InputTag)
	if !ok {
		return nil, contracts.ErrMissingInput
	}
	if _, err := decodeHex(raw); err != nil {
		return nil, contracts.ErrMalformedInput
	}
	return json.Marshal(raw)
}

// block points the block context at the interaction being applied. Calls
// outside an interaction run at block zero.
func (r *Runtime) block(action replay.Action) {
	r.cfg.BlockNumber = new(big.Int)
	r.cfg.Time = 0
	r.cfg.Random = prevRandao("")
	r.cfg.Origin = common.Address{}
	if action.Caller != "" {
		r.cfg.Origin = common.BytesToAddress(crypto.Keccak256([]byte(action.Caller))[12:])
	}
	if tx := action.Interaction; tx != nil {
		r.cfg.BlockNumber = new(big.Int).SetUint64(tx.Block.Height)
		if tx.Block.Timestamp > 0 {
			r.cfg.Time = uint64(tx.Block.Timestamp)
		}
		r.cfg.Random = prevRandao(tx.Block.ID)
	}
}

// prevRandao derives PREVRANDAO from the block id. It is always set so the
// post-merge instruction set applies to every call.
func prevRandao(blockID string) *common.Hash {
	h := common.Hash(sha256.Sum256([]byte(blockID)))
	return &h
}

func (r *Runtime) onOpcode(_ uint64, op byte, _, _ uint64, scope tracing.OpContext, _ []byte, _ int, _ error) {
	if vm.OpCode(op) != vm.SSTORE {
		return
	}
	// The address is unset while the deploy code runs.
	if r.address != (common.Address{}) && scope.Address() != r.address {
		return
	}
	stack := scope.StackData()
	if len(stack) == 0 {
		return
	}
	r.slots[common.Hash(stack[len(stack)-1].Bytes32())] = struct{}{}
}

// store encodes every non-zero touched slot as slot||value, ordered by slot.
func (r *Runtime) store() string {
	keys := make([]common.Hash, 0, len(r.slots))
	for k := range r.slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })

	var b strings.Builder
	for _, k := range keys {
		v := r.cfg.State.GetState(r.address, k)
		if v == (common.Hash{}) {
			continue
		}
		b.WriteString(hex.EncodeToString(k[:]))
		b.WriteString(hex.EncodeToString(v[:]))
	}
	return b.String()
}

// deployCode wraps runtime code in init code that stores seed at slot 0
// and returns the runtime code.
func deployCode(code []byte, seed *uint256.Int) []byte {
	var prefix []byte
	if seed != nil {
		word := seed.Bytes32()
		prefix = append(append([]byte{byte(vm.PUSH32)}, word[:]...),
			byte(vm.PUSH1), 0x00, byte(vm.SSTORE))
	}
	const copyLen = 13
	offset := len(prefix) + copyLen
	n := len(code)
	init := append(prefix,
		byte(vm.PUSH2), byte(n>>8), byte(n),
		byte(vm.DUP1),
		byte(vm.PUSH2), byte(offset>>8), byte(offset),
		byte(vm.PUSH1), 0x00,
		byte(vm.CODECOPY),
		byte(vm.PUSH1), 0x00,
		byte(vm.RETURN),
	)
	return append(init, code...)
}

func initWord(raw json.RawMessage) (*uint256.Int, error) {
	text := strings.TrimSpace(string(raw))
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	if text == "" || text == "null" {
		return nil, nil
	}
	b, err := decodeHex(text)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}
