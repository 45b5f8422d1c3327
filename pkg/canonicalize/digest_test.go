package canonicalize

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStateDigest_IgnoresKeyOrderAndNumberSpelling(t *testing.T) {
	a, err := StateDigest(json.RawMessage(`{"counter":1,"owner":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := StateDigest(json.RawMessage(`{ "owner": "x", "counter": 1e0 }`))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("digest mismatch: %s != %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") || len(a) != len("sha256:")+64 {
		t.Errorf("unexpected digest shape %q", a)
	}
}

func TestStateDigest_RejectsInvalidState(t *testing.T) {
	if _, err := StateDigest(json.RawMessage(`{oops`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestStateDigest_EmptyIsNull(t *testing.T) {
	empty, err := StateDigest(nil)
	if err != nil {
		t.Fatal(err)
	}
	null, err := StateDigest(json.RawMessage(`null`))
	if err != nil {
		t.Fatal(err)
	}
	if empty != null {
		t.Errorf("empty state %s, null state %s", empty, null)
	}
}

func TestState_CanonicalForm(t *testing.T) {
	cases := map[string]string{
		`{"z":{"y":"foo","x":"bar"},"a":1}`: `{"a":1,"z":{"x":"bar","y":"foo"}}`,
		`{"html":"<b> & </b>"}`:             `{"html":"<b> & </b>"}`,
		`{"n":123.4560,"i":1.0}`:            `{"i":1,"n":123.456}`,
		`[3,1,2]`:                           `[3,1,2]`,
	}
	for in, want := range cases {
		got, err := State(json.RawMessage(in))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if string(got) != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}
}

func TestValue_UsesStructTags(t *testing.T) {
	type balance struct {
		Ticker string `json:"ticker"`
		Amount int    `json:"amount"`
	}
	got, err := Value(balance{Ticker: "WV", Amount: 3})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"amount":3,"ticker":"WV"}` {
		t.Errorf("got %s", got)
	}
}

func TestInputDigest(t *testing.T) {
	if InputDigest([]byte(`{"b":1,"a":2}`)) != InputDigest([]byte(`{"a":2, "b":1}`)) {
		t.Error("JSON inputs with equal content must share a digest")
	}
	calldata := []byte{0xa9, 0x05, 0x9c, 0xbb}
	if InputDigest(calldata) != HashBytes(calldata) {
		t.Error("non-JSON input must be hashed raw")
	}
}

func FuzzStateDigest(f *testing.F) {
	f.Add([]byte(`{"balances":{"a":1,"b":2}}`))
	f.Add([]byte(`{"ticker":"WV","n":1e3,"flag":true,"none":null}`))
	f.Add([]byte(`{"unicode":"こんにちは","escape":"line1\nline2"}`))
	f.Add([]byte(`[]`))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) == 0 || !json.Valid(data) {
			t.Skip()
		}
		canonical, err := State(data)
		if err != nil {
			return
		}
		again, err := State(canonical)
		if err != nil {
			t.Fatalf("canonical form does not re-canonicalize: %v", err)
		}
		if string(again) != string(canonical) {
			t.Errorf("not idempotent: %s then %s", canonical, again)
		}
		d1, _ := StateDigest(data)
		d2, _ := StateDigest(canonical)
		if d1 != d2 {
			t.Errorf("digest differs between input and canonical form: %s != %s", d1, d2)
		}
	})
}
