// Package kv implements the deterministic key-value side state available to
// contracts. Keys enumerate in insertion order, never lexicographically, so
// range queries depend only on the order of writes.
package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Entry is one key/value pair.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Namespace is a per-contract KV namespace owned by one evaluation.
type Namespace struct {
	mu     sync.RWMutex
	order  []string
	values map[string]json.RawMessage
}

// New returns an empty namespace.
func New() *Namespace {
	return &Namespace{values: make(map[string]json.RawMessage)}
}

// FromEntries restores a namespace from an exported snapshot.
func FromEntries(entries []Entry) *Namespace {
	ns := New()
	for _, e := range entries {
		ns.Put(e.Key, e.Value)
	}
	return ns
}

// FromMap restores a namespace from a map and its key order. Keys missing
// from order are appended in sorted order so the result is deterministic.
func FromMap(values map[string]json.RawMessage, order []string) *Namespace {
	ns := New()
	for _, k := range order {
		if v, ok := values[k]; ok {
			ns.Put(k, v)
		}
	}
	for _, k := range sortedKeys(values) {
		if _, ok := ns.values[k]; !ok {
			ns.Put(k, values[k])
		}
	}
	return ns
}

// Put stores value under key. Overwriting keeps the key's position.
func (n *Namespace) Put(key string, value json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.values[key]; !ok {
		n.order = append(n.order, key)
	}
	n.values[key] = append(json.RawMessage(nil), value...)
}

// Get returns the value stored under key.
func (n *Namespace) Get(key string) (json.RawMessage, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.values[key]
	return v, ok
}

// Del removes key. It reports whether the key existed.
func (n *Namespace) Del(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.values[key]; !ok {
		return false
	}
	delete(n.values, key)
	for i, k := range n.order {
		if k == key {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of keys.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.order)
}

// Entries returns all entries in insertion order.
func (n *Namespace) Entries() []Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Entry, len(n.order))
	for i, k := range n.order {
		out[i] = Entry{Key: k, Value: n.values[k]}
	}
	return out
}

// Export returns a copy of the values and their key order.
func (n *Namespace) Export() (map[string]json.RawMessage, []string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	values := make(map[string]json.RawMessage, len(n.values))
	for k, v := range n.values {
		values[k] = v
	}
	return values, append([]string(nil), n.order...)
}

// RangeQuery selects a window of insertion positions [Gte, Lt). Nil bounds
// default to the whole namespace. Limit, when set, must be a finite
// non-negative integer no larger than the window.
type RangeQuery struct {
	Gte     *int
	Lt      *int
	Reverse bool
	Limit   *float64
}

// Range returns the entries in the selected window.
func (n *Namespace) Range(q RangeQuery) ([]Entry, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := len(n.order)
	gte, lt := 0, count
	if q.Gte != nil {
		gte = *q.Gte
	}
	if q.Lt != nil {
		lt = *q.Lt
	}
	if q.Gte == nil && q.Lt == nil && count == 0 {
		return []Entry{}, nil
	}
	if gte < 0 || gte >= lt || lt > count {
		return nil, contracts.NewError(contracts.CodeInvalidRange,
			"range [%d, %d) is outside 0..%d", gte, lt, count)
	}

	window := lt - gte
	take := window
	if q.Limit != nil {
		l := *q.Limit
		if math.IsNaN(l) || math.IsInf(l, 0) || l < 0 || l != math.Trunc(l) || int(l) > window {
			return nil, contracts.NewError(contracts.CodeInvalidLimit,
				"limit %v must be an integer in 0..%d", l, window)
		}
		take = int(l)
	}

	out := make([]Entry, 0, take)
	for i := 0; i < take; i++ {
		idx := gte + i
		if q.Reverse {
			idx = lt - 1 - i
		}
		k := n.order[idx]
		out = append(out, Entry{Key: k, Value: n.values[k]})
	}
	return out, nil
}

// OrderedObject encodes entries as a JSON object preserving their order.
func OrderedObject(entries []Entry) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, fmt.Errorf("kv: encode key: %w", err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		if len(e.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(e.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
