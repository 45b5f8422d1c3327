package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// ledgerRuntime is an order-sensitive test contract: "add" adds n, "double"
// doubles, "fail" rejects, "peek" only returns a result, "fatal" aborts.
type ledgerRuntime struct {
	calls int
	bonus int
}

func (r *ledgerRuntime) Apply(_ context.Context, state json.RawMessage, action Action) (Outcome, error) {
	r.calls++
	var s struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(state, &s); err != nil {
		return Outcome{}, err
	}
	var in struct {
		Op string `json:"op"`
		N  int    `json:"n"`
	}
	if err := json.Unmarshal(action.Input, &in); err != nil {
		return Outcome{}, err
	}
	switch in.Op {
	case "add":
		s.Total += in.N + r.bonus
	case "double":
		s.Total *= 2
	case "fail":
		return Outcome{}, &contracts.ContractError{Message: "rejected"}
	case "peek":
		res, _ := json.Marshal(map[string]any{"total": s.Total, "caller": action.Caller})
		return Outcome{Result: res, Gas: 1}, nil
	case "fatal":
		return Outcome{}, Fatal(contracts.NewError(contracts.CodeSelfRead, "self read"))
	default:
		return Outcome{}, errors.New("unknown op")
	}
	raw, _ := json.Marshal(s)
	return Outcome{State: raw, HasState: true, Gas: 2}, nil
}

func tx(id, input string) contracts.Interaction {
	i := contracts.Interaction{ID: id, Owner: "owner-" + id}
	if input != "" {
		i.Tags = []contracts.Tag{{Name: contracts.InputTag, Value: input}}
	}
	return i
}

func TestReplay_FoldsInOrder(t *testing.T) {
	fold, err := New(Options{}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":1}`), []contracts.Interaction{
		tx("a", `{"op":"add","n":2}`),
		tx("b", `{"op":"double"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":6}`, string(fold.State))
	assert.Equal(t, []string{"a", "b"}, fold.Validity.Keys())
	assert.True(t, fold.Updated)
	assert.Equal(t, uint64(4), fold.Gas)

	reordered, err := New(Options{}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":1}`), []contracts.Interaction{
		tx("b", `{"op":"double"}`),
		tx("a", `{"op":"add","n":2}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":4}`, string(reordered.State))
}

func TestReplay_FailureIsIsolated(t *testing.T) {
	fold, err := New(Options{}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":0}`), []contracts.Interaction{
		tx("a", `{"op":"add","n":5}`),
		tx("b", `{"op":"fail"}`),
		tx("c", `{"op":"add","n":1}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":6}`, string(fold.State))

	out, err := json.Marshal(fold.Validity)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":false,"c":true}`, string(out))
	assert.Equal(t, []string{"ContractError: rejected"}, fold.Errors)
}

func TestReplay_ShowErrors(t *testing.T) {
	fold, err := New(Options{ShowErrors: true}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":0}`), []contracts.Interaction{
		tx("a", `{"op":"fail"}`),
	})
	require.NoError(t, err)
	v, ok := fold.Validity.Get("a")
	require.True(t, ok)
	assert.Equal(t, contracts.InvalidWith("ContractError: rejected"), v)
}

func TestReplay_MissingOrMalformedInput(t *testing.T) {
	rt := &ledgerRuntime{}
	fold, err := New(Options{ShowErrors: true}).Replay(context.Background(), rt, json.RawMessage(`{"total":3}`), []contracts.Interaction{
		tx("none", ""),
		tx("bad", `{not json`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rt.calls)
	assert.JSONEq(t, `{"total":3}`, string(fold.State))
	assert.False(t, fold.Updated)

	out, err := json.Marshal(fold.Validity)
	require.NoError(t, err)
	assert.Equal(t, `{"none":false,"bad":false}`, string(out))
}

func TestReplay_ResultOnlyKeepsState(t *testing.T) {
	fold, err := New(Options{}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":9}`), []contracts.Interaction{
		tx("p", `{"op":"peek"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":9}`, string(fold.State))
	assert.JSONEq(t, `{"total":9,"caller":"owner-p"}`, string(fold.Result))
	v, _ := fold.Validity.Get("p")
	assert.Equal(t, contracts.Valid, v)
	assert.False(t, fold.Updated)
}

func TestReplay_FatalAborts(t *testing.T) {
	rt := &ledgerRuntime{}
	_, err := New(Options{}).Replay(context.Background(), rt, json.RawMessage(`{"total":0}`), []contracts.Interaction{
		tx("a", `{"op":"fatal"}`),
		tx("b", `{"op":"add","n":1}`),
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, contracts.ErrSelfRead)
	assert.Equal(t, 1, rt.calls)
}

func TestReplay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Replay(ctx, &ledgerRuntime{}, json.RawMessage(`{"total":0}`), []contracts.Interaction{tx("a", `{"op":"add","n":1}`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplay_Evolve(t *testing.T) {
	evolved := &ledgerRuntime{bonus: 100}
	evolve := func(_ context.Context, state json.RawMessage) (Runtime, error) {
		var s struct{ Total int }
		_ = json.Unmarshal(state, &s)
		if s.Total >= 10 {
			return evolved, nil
		}
		return nil, nil
	}
	fold, err := New(Options{Evolve: evolve}).Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":0}`), []contracts.Interaction{
		tx("a", `{"op":"add","n":10}`),
		tx("b", `{"op":"add","n":1}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":111}`, string(fold.State))
	assert.Same(t, evolved, fold.Runtime)
}

func TestReplay_TraceAndCompare(t *testing.T) {
	txs := []contracts.Interaction{
		tx("a", `{"op":"add","n":2}`),
		tx("b", `{"op":"fail"}`),
		tx("c", `{"op":"double"}`),
	}
	r := New(Options{Trace: true})
	first, err := r.Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":1}`), txs)
	require.NoError(t, err)
	second, err := r.Replay(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":1}`), txs)
	require.NoError(t, err)
	require.Len(t, first.Steps, 3)
	assert.Nil(t, Compare(first.Steps, second.Steps))

	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, first.Steps))
	read, err := ReadTrace(&buf)
	require.NoError(t, err)
	assert.Nil(t, Compare(first.Steps, read))

	drifted, err := r.Replay(context.Background(), &ledgerRuntime{bonus: 1}, json.RawMessage(`{"total":1}`), txs)
	require.NoError(t, err)
	d := Compare(first.Steps, drifted.Steps)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Index)
	assert.Equal(t, "a", d.TxID)

	d = Compare(first.Steps, first.Steps[:2])
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Index)
}

func TestSimulate(t *testing.T) {
	r := New(Options{})
	out, err := r.Simulate(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":2}`), json.RawMessage(`{"op":"peek"}`), "me")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":2}`, string(out.State))
	assert.JSONEq(t, `{"total":2,"caller":"me"}`, string(out.Result))

	_, err = r.Simulate(context.Background(), &ledgerRuntime{}, json.RawMessage(`{"total":2}`), json.RawMessage(`{"op":"fail"}`), "me")
	assert.ErrorIs(t, err, contracts.ErrContract)
}
