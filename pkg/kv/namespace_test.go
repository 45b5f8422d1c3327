package kv

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func abc() *Namespace {
	ns := New()
	ns.Put("a", json.RawMessage(`1`))
	ns.Put("b", json.RawMessage(`"two"`))
	ns.Put("c", json.RawMessage(`{"n":3}`))
	return ns
}

func keysOf(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestNamespace_PutGetDel(t *testing.T) {
	ns := abc()
	v, ok := ns.Get("b")
	require.True(t, ok)
	assert.JSONEq(t, `"two"`, string(v))

	ns.Put("a", json.RawMessage(`10`))
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(ns.Entries()))

	assert.True(t, ns.Del("b"))
	assert.False(t, ns.Del("b"))
	_, ok = ns.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "c"}, keysOf(ns.Entries()))
}

func TestNamespace_RangeUsesInsertionOrder(t *testing.T) {
	ns := New()
	ns.Put("zeta", json.RawMessage(`1`))
	ns.Put("alpha", json.RawMessage(`2`))
	ns.Put("mid", json.RawMessage(`3`))

	got, err := ns.Range(RangeQuery{Gte: intp(0), Lt: intp(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, keysOf(got))
}

func TestNamespace_Range(t *testing.T) {
	ns := abc()

	got, err := ns.Range(RangeQuery{Gte: intp(0), Lt: intp(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keysOf(got))

	got, err = ns.Range(RangeQuery{Gte: intp(0), Lt: intp(3), Reverse: true, Limit: floatp(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, keysOf(got))

	got, err = ns.Range(RangeQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(got))

	got, err = ns.Range(RangeQuery{Gte: intp(1), Lt: intp(3), Limit: floatp(0)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNamespace_RangeErrors(t *testing.T) {
	ns := abc()

	for name, q := range map[string]RangeQuery{
		"lt beyond count": {Gte: intp(1), Lt: intp(5)},
		"negative gte":    {Gte: intp(-1), Lt: intp(2)},
		"empty window":    {Gte: intp(2), Lt: intp(2)},
	} {
		_, err := ns.Range(q)
		assert.ErrorIs(t, err, contracts.ErrInvalidRange, name)
	}

	for name, l := range map[string]float64{
		"fraction":    1.5,
		"negative":    -1,
		"infinite":    math.Inf(1),
		"nan":         math.NaN(),
		"over window": 3,
	} {
		_, err := ns.Range(RangeQuery{Gte: intp(0), Lt: intp(2), Limit: floatp(l)})
		assert.ErrorIs(t, err, contracts.ErrInvalidLimit, name)
	}
}

func TestNamespace_EmptyRange(t *testing.T) {
	got, err := New().Range(RangeQuery{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrderedObject(t *testing.T) {
	out, err := OrderedObject(abc().Entries())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"two","c":{"n":3}}`, string(out))
}

func TestFromMap_RestoresOrder(t *testing.T) {
	values, order := abc().Export()
	values["extra"] = json.RawMessage(`true`)
	ns := FromMap(values, order)
	assert.Equal(t, []string{"a", "b", "c", "extra"}, keysOf(ns.Entries()))
}

func TestLevelDBSnapshots_RoundTrip(t *testing.T) {
	store, err := OpenLevelDBSnapshots("")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("contract-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save("contract-1", abc()))
	ns, err := store.Load("contract-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(ns.Entries()))

	require.NoError(t, store.Delete("contract-1"))
	_, err = store.Load("contract-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
