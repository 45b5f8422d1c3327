package contracts

import (
	"encoding/json"
	"strconv"
)

// Settings is the settings surface recognized by the host shim and the
// runtimes.
type Settings struct {
	EXM            bool  `json:"EXM" yaml:"exm"`
	LazyEvaluation bool  `json:"LAZY_EVALUATION" yaml:"lazy_evaluation"`
	TxDate         int64 `json:"TX_DATE,omitempty" yaml:"tx_date,omitempty"`
	ShowErrors     bool  `json:"SHOW_ERRORS,omitempty" yaml:"show_errors,omitempty"`
}

// SettingsFromMap reads settings from a loosely typed map as supplied by
// simulation callers. Unknown keys are ignored.
func SettingsFromMap(m map[string]any) Settings {
	var s Settings
	s.EXM = truthy(m["EXM"])
	s.LazyEvaluation = truthy(m["LAZY_EVALUATION"])
	s.ShowErrors = truthy(m["SHOW_ERRORS"])
	switch v := m["TX_DATE"].(type) {
	case float64:
		s.TxDate = int64(v)
	case int64:
		s.TxDate = v
	case int:
		s.TxDate = int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.TxDate = n
		}
	}
	return s
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	}
	return false
}

// FetchRecord is one recorded deterministic fetch response.
type FetchRecord struct {
	Type       string            `json:"type"`
	URL        string            `json:"url"`
	StatusText string            `json:"statusText"`
	Status     int               `json:"status"`
	Redirected bool              `json:"redirected"`
	OK         bool              `json:"ok"`
	Headers    map[string]string `json:"headers"`
	Body       ByteVector        `json:"vector"`
}

// ByteVector encodes as a JSON array of byte values rather than base64,
// keeping exported request maps readable by other engines.
type ByteVector []byte

func (b ByteVector) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, c := range b {
		ints[i] = int(c)
	}
	return json.Marshal(ints)
}

func (b *ByteVector) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, n := range ints {
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// ExmContext carries the host-service side state of an evaluation: recorded
// fetches, the KV namespace and the hashes of requests issued in order.
type ExmContext struct {
	Requests  map[string]FetchRecord     `json:"requests"`
	KV        map[string]json.RawMessage `json:"kv"`
	Initiated []string                   `json:"initiated"`
}

// NewExmContext returns an empty context.
func NewExmContext() *ExmContext {
	return &ExmContext{
		Requests:  make(map[string]FetchRecord),
		KV:        make(map[string]json.RawMessage),
		Initiated: []string{},
	}
}

// EvaluationResult is the normalized output of any runtime.
type EvaluationResult struct {
	State    json.RawMessage `json:"state,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Store    string          `json:"store,omitempty"`
	Validity *ValidityMap    `json:"validity"`
	Exm      *ExmContext     `json:"exm,omitempty"`
	Gas      uint64          `json:"gas,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
	Updated  bool            `json:"updated,omitempty"`
	// KVOrder is the insertion order of Exm.KV keys, needed to restore a
	// namespace exactly.
	KVOrder []string `json:"kv_order,omitempty"`
}

// StateView is what a foreign-call reader receives.
func (r *EvaluationResult) StateView(showValidity bool) any {
	if !showValidity {
		return r.State
	}
	return map[string]any{"state": r.State, "validity": r.Validity}
}
