package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const counterFixture = `
contracts:
  - id: counter
    owner: alice
    content_type: js
    source: |
      function handle(state, action) {
        if (action.input.function === "fail") {
          throw new ContractError("nope");
        }
        return { state: { counter: state.counter + 1 } };
      }
    init_state: {counter: 0}
    interactions:
      - id: tx-1
        owner: bob
        block: {height: 1, id: b1}
        input: {function: bump}
      - id: tx-2
        owner: bob
        block: {height: 2, id: b2}
        input: {function: fail}
      - id: tx-3
        owner: bob
        block: {height: 3, id: b3}
        input: {function: bump}
`

// setup isolates the command from the host environment and returns the
// fixture path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{
		"LOG_LEVEL", "LOG_FORMAT", "WEAVE_DATABASE_URL", "WEAVE_REDIS_ADDR", "WEAVE_KV_DIR",
		"WEAVE_OTEL_ENDPOINT", "WEAVE_ARTIFACT_STORE", "EXM", "LAZY_EVALUATION", "SHOW_ERRORS", "TX_DATE",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("WEAVE_ARTIFACT_DIR", filepath.Join(dir, "snapshots"))
	t.Setenv("LOG_LEVEL", "ERROR")

	path := filepath.Join(dir, "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(counterFixture), 0o644))
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Evaluates(t *testing.T) {
	fixtures := setup(t)

	code, out, errOut := run(t, "run", "--fixtures", fixtures, "counter")
	require.Equal(t, ExitOK, code, errOut)

	var got struct {
		State    map[string]int  `json:"state"`
		Validity map[string]bool `json:"validity"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.State["counter"])
	assert.Equal(t, map[string]bool{"tx-1": true, "tx-2": false, "tx-3": true}, got.Validity)
}

func TestRun_HeightBound(t *testing.T) {
	fixtures := setup(t)

	code, out, errOut := run(t, "run", "--fixtures", fixtures, "--height", "1", "counter")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, `"counter": 1`)
}

func TestRun_UnknownContract(t *testing.T) {
	fixtures := setup(t)

	code, _, errOut := run(t, "run", "--fixtures", fixtures, "ghost")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "ghost")
}

func TestRun_RequiresFixtures(t *testing.T) {
	setup(t)

	code, _, errOut := run(t, "run", "counter")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "--fixtures")
}

func TestVerify_RoundTrip(t *testing.T) {
	fixtures := setup(t)
	trace := filepath.Join(t.TempDir(), "run.trace")

	code, _, errOut := run(t, "run", "--fixtures", fixtures, "--trace-out", trace, "counter")
	require.Equal(t, ExitOK, code, errOut)

	code, out, errOut := run(t, "verify", "--fixtures", fixtures, "--trace", trace, "counter")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "3 interactions match")

	// A shorter replay disagrees with the recorded trace.
	code, _, _ = run(t, "verify", "--fixtures", fixtures, "--trace", trace, "--height", "2", "counter")
	assert.Equal(t, ExitMismatch, code)
}

func TestSimulate(t *testing.T) {
	fixtures := setup(t)
	txs := filepath.Join(t.TempDir(), "txs.yaml")
	require.NoError(t, os.WriteFile(txs, []byte(`
- id: sim-1
  owner: carol
  input: {function: bump}
`), 0o644))

	code, out, errOut := run(t, "simulate", "--fixtures", fixtures, "--interactions", txs, "counter")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, `"counter": 1`)

	code, out, errOut = run(t, "simulate", "--fixtures", fixtures, "--interactions", txs, "--with-history", "counter")
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, `"counter": 3`)
	assert.Contains(t, out, `"sim-1": true`)
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "weave "+version)
}

func TestSimulate_Action(t *testing.T) {
	fixtures := setup(t)

	code, out, errOut := run(t, "simulate", "--fixtures", fixtures, "--input", `{"function":"bump"}`, "--caller", "carol", "counter")
	require.Equal(t, ExitOK, code, errOut)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.JSONEq(t, `{"counter":1}`, string(got["state"]))
	assert.NotContains(t, got, "validity")

	code, _, errOut = run(t, "simulate", "--fixtures", fixtures, "--input", `{"function":"fail"}`, "counter")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "nope")
}

func TestSimulate_NeedsInteractionsOrInput(t *testing.T) {
	fixtures := setup(t)

	code, _, _ := run(t, "simulate", "--fixtures", fixtures, "counter")
	assert.Equal(t, ExitError, code)

	code, _, _ = run(t, "simulate", "--fixtures", fixtures, "--input", `{}`, "--with-history", "counter")
	assert.Equal(t, ExitError, code)
}
