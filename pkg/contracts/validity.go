package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Validity is the outcome of one interaction: valid, invalid, or invalid
// with an error message. It encodes as true, false or the message string.
type Validity struct {
	Valid bool
	Err   string
}

var (
	// Valid marks an applied interaction.
	Valid = Validity{Valid: true}
	// Invalid marks a rejected interaction without detail.
	Invalid = Validity{}
)

// InvalidWith marks a rejected interaction carrying its error message.
func InvalidWith(msg string) Validity {
	return Validity{Err: msg}
}

func (v Validity) MarshalJSON() ([]byte, error) {
	if v.Valid {
		return []byte("true"), nil
	}
	if v.Err != "" {
		return json.Marshal(v.Err)
	}
	return []byte("false"), nil
}

func (v *Validity) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Validity{Valid: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("contracts: validity must be a bool or string: %w", err)
	}
	*v = Validity{Err: s}
	return nil
}

// ValidityMap records per-interaction outcomes in the order they were
// applied. It is append-only during a replay and encodes as a JSON object
// whose keys follow that order.
type ValidityMap struct {
	order   []string
	entries map[string]Validity
}

// NewValidityMap returns an empty map.
func NewValidityMap() *ValidityMap {
	return &ValidityMap{entries: make(map[string]Validity)}
}

// Set records the outcome of interaction id. A repeated id keeps its
// original position.
func (m *ValidityMap) Set(id string, v Validity) {
	if m.entries == nil {
		m.entries = make(map[string]Validity)
	}
	if _, ok := m.entries[id]; !ok {
		m.order = append(m.order, id)
	}
	m.entries[id] = v
}

// Get returns the outcome recorded for id.
func (m *ValidityMap) Get(id string) (Validity, bool) {
	if m == nil {
		return Validity{}, false
	}
	v, ok := m.entries[id]
	return v, ok
}

// Len returns the number of recorded interactions.
func (m *ValidityMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Keys returns interaction ids in application order.
func (m *ValidityMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}

// Bools flattens the map to id -> bool, dropping error detail.
func (m *ValidityMap) Bools() map[string]bool {
	out := make(map[string]bool, m.Len())
	for _, id := range m.Keys() {
		out[id] = m.entries[id].Valid
	}
	return out
}

func (m *ValidityMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := m.entries[id].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *ValidityMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("contracts: validity map must be an object")
	}
	*m = ValidityMap{entries: make(map[string]Validity)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("contracts: validity key must be a string")
		}
		var v Validity
		if err := dec.Decode(&v); err != nil {
			return err
		}
		m.Set(id, v)
	}
	_, err = dec.Token()
	return err
}
