package evm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/replay"
)

const (
	// PUSH1 1 PUSH1 2 ADD PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	addCode = "600160020160005260206000f3"
	// slot0 += 1, return slot0
	counterCode = "6000546001018060005560005260206000f3"
	// NUMBER PUSH1 0 MSTORE PUSH1 32 PUSH1 0 RETURN
	numberCode = "4360005260206000f3"
	// PUSH1 0 PUSH1 0 REVERT
	revertCode = "60006000fd"
)

func word(hexValue string) string {
	return strings.Repeat("0", 64-len(hexValue)) + hexValue
}

func deploy(t *testing.T, code, init string) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), []byte(code), json.RawMessage(init), Config{ContractID: "evm-1"})
	require.NoError(t, err)
	return rt
}

func call(t *testing.T, rt *Runtime, input string, tx *contracts.Interaction) (replay.Outcome, error) {
	t.Helper()
	in, err := json.Marshal(input)
	require.NoError(t, err)
	return rt.Apply(context.Background(), nil, replay.Action{Input: in, Caller: "caller", Interaction: tx})
}

func TestApply_OnePlusTwo(t *testing.T) {
	rt := deploy(t, addCode, "")
	out, err := call(t, rt, "", nil)
	require.NoError(t, err)

	var result string
	require.NoError(t, json.Unmarshal(out.Result, &result))
	assert.Equal(t, word("3"), result)
	assert.True(t, out.HasState)
	assert.JSONEq(t, `""`, string(out.State))
	assert.NotZero(t, out.Gas)
}

func TestApply_StoragePersistsAcrossCalls(t *testing.T) {
	rt := deploy(t, counterCode, `"05"`)
	assert.Equal(t, word("0")+word("5"), rt.Store())

	out, err := call(t, rt, "0x", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+word("6")+`"`, string(out.Result))
	assert.JSONEq(t, `"`+word("0")+word("6")+`"`, string(out.State))

	out, err = call(t, rt, "", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+word("7")+`"`, string(out.Result))
	assert.Equal(t, word("0")+word("7"), rt.Store())
}

func TestApply_RevertIsInteractionFailure(t *testing.T) {
	rt := deploy(t, revertCode, "")
	_, err := call(t, rt, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
	assert.False(t, replay.IsFatal(err))
}

func TestApply_BlockContext(t *testing.T) {
	rt := deploy(t, numberCode, "")
	out, err := call(t, rt, "", &contracts.Interaction{ID: "tx", Block: contracts.Block{Height: 77, ID: "blk", Timestamp: 1700000000}})
	require.NoError(t, err)
	assert.JSONEq(t, `"`+word("4d")+`"`, string(out.Result))
}

func TestApply_BadInput(t *testing.T) {
	rt := deploy(t, addCode, "")
	_, err := rt.Apply(context.Background(), nil, replay.Action{Input: json.RawMessage(`{"a":1}`)})
	assert.ErrorIs(t, err, ErrInput)

	_, err = call(t, rt, "zz", nil)
	assert.ErrorIs(t, err, ErrInput)
}

func TestNew_BadBytecode(t *testing.T) {
	_, err := New(context.Background(), []byte("not hex"), nil, Config{})
	assert.ErrorIs(t, err, contracts.ErrCompile)

	_, err = New(context.Background(), []byte(addCode), json.RawMessage(`{}`), Config{})
	assert.ErrorIs(t, err, contracts.ErrCompile)
}

func TestInput(t *testing.T) {
	tx := &contracts.Interaction{Tags: []contracts.Tag{{Name: contracts.InputTag, Value: "0x6001"}}}
	in, err := Input(tx)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x6001"`, string(in))

	_, err = Input(&contracts.Interaction{})
	assert.ErrorIs(t, err, contracts.ErrMissingInput)

	_, err = Input(&contracts.Interaction{Tags: []contracts.Tag{{Name: contracts.InputTag, Value: "xyz"}}})
	assert.ErrorIs(t, err, contracts.ErrMalformedInput)
}

func TestReplayFold(t *testing.T) {
	rt := deploy(t, counterCode, `"00"`)
	txs := []contracts.Interaction{
		{ID: "a", Tags: []contracts.Tag{{Name: contracts.InputTag, Value: ""}}},
		{ID: "b", Tags: []contracts.Tag{{Name: contracts.InputTag, Value: "not-hex"}}},
		{ID: "c", Tags: []contracts.Tag{{Name: contracts.InputTag, Value: "00"}}},
	}
	fold, err := replay.New(replay.Options{Input: Input}).Replay(context.Background(), rt, nil, txs)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+word("2")+`"`, string(fold.Result))

	out, err := json.Marshal(fold.Validity)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":false,"c":true}`, string(out))
}
