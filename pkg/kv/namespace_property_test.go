//go:build property
// +build property

package kv_test

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
	"github.com/Mindburn-Labs/weave/pkg/kv"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// op is a write against a namespace: a put when del is false.
type op struct {
	key int
	del bool
}

// model mirrors a namespace as an ordered key slice.
type model struct {
	keys   []string
	values map[string]string
}

func (m *model) apply(o op, seq int) {
	k := "k" + strconv.Itoa(o.key)
	if o.del {
		for i, have := range m.keys {
			if have == k {
				m.keys = append(m.keys[:i], m.keys[i+1:]...)
				delete(m.values, k)
				break
			}
		}
		return
	}
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = strconv.Itoa(seq)
}

// genOps draws writes over eight keys, one in four a delete.
func genOps() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 31).Map(func(i int) op {
		return op{key: i % 8, del: i >= 24}
	}))
}

func build(ops []op) (*kv.Namespace, *model) {
	ns := kv.New()
	m := &model{values: make(map[string]string)}
	for i, o := range ops {
		k := "k" + strconv.Itoa(o.key)
		if o.del {
			ns.Del(k)
		} else {
			ns.Put(k, json.RawMessage(strconv.Itoa(i)))
		}
		m.apply(o, i)
	}
	return ns, m
}

// Property: Range over any write history selects the same window as a
// slice of the model's insertion order.
func TestRangeMatchesModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("window of the insertion order", prop.ForAll(
		func(ops []op, gte, lt int, reverse bool) bool {
			ns, m := build(ops)
			if len(m.keys) == 0 {
				return true
			}
			gte, lt = gte%len(m.keys), lt%(len(m.keys)+1)
			if gte >= lt {
				gte, lt = 0, len(m.keys)
			}
			got, err := ns.Range(kv.RangeQuery{Gte: &gte, Lt: &lt, Reverse: reverse})
			if err != nil {
				return false
			}
			want := append([]string(nil), m.keys[gte:lt]...)
			if reverse {
				for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
					want[i], want[j] = want[j], want[i]
				}
			}
			if len(got) != len(want) {
				return false
			}
			for i, e := range got {
				if e.Key != want[i] || string(e.Value) != m.values[want[i]] {
					return false
				}
			}
			return true
		},
		genOps(),
		gen.IntRange(0, 16),
		gen.IntRange(0, 16),
		gen.Bool(),
	))

	properties.Property("limit takes a prefix of the window", prop.ForAll(
		func(ops []op, limit int, reverse bool) bool {
			ns, m := build(ops)
			if len(m.keys) == 0 {
				return true
			}
			limit %= len(m.keys) + 1
			all, err := ns.Range(kv.RangeQuery{Reverse: reverse})
			if err != nil {
				return false
			}
			l := float64(limit)
			got, err := ns.Range(kv.RangeQuery{Reverse: reverse, Limit: &l})
			if err != nil || len(got) != limit {
				return false
			}
			for i := range got {
				if got[i].Key != all[i].Key {
					return false
				}
			}
			return true
		},
		genOps(),
		gen.IntRange(0, 16),
		gen.Bool(),
	))

	properties.Property("bounds outside the namespace are InvalidRange", prop.ForAll(
		func(ops []op, gte, lt int) bool {
			ns, m := build(ops)
			n := len(m.keys)
			_, err := ns.Range(kv.RangeQuery{Gte: &gte, Lt: &lt})
			bad := gte < 0 || gte >= lt || lt > n
			if !bad {
				return err == nil
			}
			return errors.Is(err, contracts.ErrInvalidRange)
		},
		genOps(),
		gen.IntRange(-3, 12),
		gen.IntRange(-3, 12),
	))

	properties.Property("limits that are not whole counts in the window are InvalidLimit", prop.ForAll(
		func(ops []op, l float64) bool {
			ns, m := build(ops)
			if len(m.keys) == 0 {
				return true
			}
			_, err := ns.Range(kv.RangeQuery{Limit: &l})
			bad := math.IsNaN(l) || math.IsInf(l, 0) || l < 0 || l != math.Trunc(l) || l > float64(len(m.keys))
			if !bad {
				return err == nil
			}
			return errors.Is(err, contracts.ErrInvalidLimit)
		},
		genOps(),
		gen.OneGenOf(
			gen.Float64Range(-4, 12),
			gen.IntRange(-2, 12).Map(func(i int) float64 { return float64(i) }),
			gen.OneConstOf(math.NaN(), math.Inf(1), math.Inf(-1)),
		),
	))

	properties.TestingRun(t)
}
