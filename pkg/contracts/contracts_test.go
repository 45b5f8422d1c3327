package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidityMap_PreservesApplicationOrder(t *testing.T) {
	m := NewValidityMap()
	m.Set("tx-c", Valid)
	m.Set("tx-a", Invalid)
	m.Set("tx-b", InvalidWith("ContractError: boom"))
	m.Set("tx-c", Invalid) // overwrite keeps position

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"tx-c":false,"tx-a":false,"tx-b":"ContractError: boom"}`, string(out))

	var back ValidityMap
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, []string{"tx-c", "tx-a", "tx-b"}, back.Keys())
	v, ok := back.Get("tx-b")
	require.True(t, ok)
	assert.False(t, v.Valid)
	assert.Equal(t, "ContractError: boom", v.Err)
}

func TestValidityMap_Empty(t *testing.T) {
	out, err := json.Marshal(NewValidityMap())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
	assert.Equal(t, 0, (*ValidityMap)(nil).Len())
}

func TestParseContentType(t *testing.T) {
	cases := map[string]ContentType{
		"application/javascript":   ContentTypeScript,
		"text/javascript":          ContentTypeScript,
		"application/wasm":         ContentTypeWasm,
		"application/octet-stream": ContentTypeEVM,
		"evm":                      ContentTypeEVM,
	}
	for in, want := range cases {
		got, err := ParseContentType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseContentType("application/x-python")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedContractType))
	assert.False(t, errors.Is(err, ErrSelfRead))
}

func TestInteractionInput(t *testing.T) {
	tx := Interaction{ID: "t1", Tags: []Tag{{Name: "App-Name", Value: "SmartWeaveAction"}, {Name: "Input", Value: `{"function":"transfer"}`}}}
	in, err := tx.Input()
	require.NoError(t, err)
	assert.JSONEq(t, `{"function":"transfer"}`, string(in))

	tx.Tags = tx.Tags[:1]
	_, err = tx.Input()
	assert.ErrorIs(t, err, ErrMissingInput)

	tx.Tags = append(tx.Tags, Tag{Name: "Input", Value: "{not json"})
	_, err = tx.Input()
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestEvaluationError_WrapsAndMatches(t *testing.T) {
	err := fmt.Errorf("fcp: %w", NewError(CodeSelfRead, "contract %s cannot read itself", "abc"))
	assert.ErrorIs(t, err, ErrSelfRead)

	var ee *EvaluationError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "SELF_READ: contract abc cannot read itself", ee.Error())

	assert.ErrorIs(t, &ContractError{Message: "nope"}, ErrContract)
}

func TestSettingsFromMap(t *testing.T) {
	s := SettingsFromMap(map[string]any{"EXM": true, "LAZY_EVALUATION": "true", "TX_DATE": float64(1650000000000)})
	assert.True(t, s.EXM)
	assert.True(t, s.LazyEvaluation)
	assert.Equal(t, int64(1650000000000), s.TxDate)
}

func TestByteVector_EncodesAsArray(t *testing.T) {
	rec := FetchRecord{Status: 200, OK: true, Body: ByteVector("hi"), Headers: map[string]string{}}
	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"vector":[104,105]`)

	var back FetchRecord
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "hi", string(back.Body))
}
