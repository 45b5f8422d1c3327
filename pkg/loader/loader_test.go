package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

func at(id string, height uint64) contracts.Interaction {
	return contracts.Interaction{ID: id, Owner: "o", Block: contracts.Block{Height: height, ID: "blk"}}
}

func TestSortKey(t *testing.T) {
	tx := contracts.Interaction{ID: "tx", Block: contracts.Block{Height: 1024, ID: "block"}}
	sum := sha256.Sum256([]byte("blocktx"))
	assert.Equal(t, "000000001024,"+hex.EncodeToString(sum[:]), SortKey(&tx))
}

func TestSort_OrdersByHeight(t *testing.T) {
	txs := []contracts.Interaction{at("c", 10), at("a", 9), at("b", 100)}
	Sort(txs)
	assert.Equal(t, []string{"a", "c", "b"}, []string{txs[0].ID, txs[1].ID, txs[2].ID})

	assert.Len(t, UpTo(txs, 10), 2)
	assert.Len(t, UpTo(txs, 0), 3)
	assert.Empty(t, UpTo(txs, 1))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.AddContract(&contracts.ContractSource{
		ID: "c1", SourceID: "src-1", ContentType: contracts.ContentTypeScript,
		Source: []byte("function handle(){}"), InitState: []byte(`{}`),
	})
	m.AddInteractions("c1", at("late", 5), at("early", 1))

	c, err := m.LoadContract(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "src-1", c.SourceID)

	txs, err := m.LoadInteractions(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "early", txs[0].ID)

	txs[0].Tags = append(txs[0].Tags, contracts.Tag{Name: "x", Value: "y"})
	again, err := m.LoadInteractions(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, again[0].Tags)

	src, err := m.LoadSource(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ContentTypeScript, src.ContentType)

	_, err = m.LoadContract(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrContractNotFound)
	_, err = m.LoadInteractions(ctx, "missing", 0)
	assert.ErrorIs(t, err, contracts.ErrContractNotFound)
	_, err = m.LoadSource(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrContractNotFound)
}

const counterFixture = `
contracts:
  - id: counter
    owner: alice
    source_id: counter-src
    content_type: js
    source: |
      export function handle(state) { return { state: { counter: state.counter + 1 } } }
    init_state: {counter: 0}
    interactions:
      - id: tx-2
        owner: bob
        block: {height: 2, id: b2, timestamp: 20}
        input: {function: bump}
      - id: tx-1
        owner: bob
        block: {height: 1, id: b1}
        tags:
          - {name: Input, value: "{}"}
sources:
  - id: next-src
    content_type: application/wasm
    source_file: next.wasm
`

func TestFixtures_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter.yaml"), []byte(counterFixture), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "next.wasm"), []byte{0, 'a', 's', 'm'}, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	f, err := NewFixtures()
	require.NoError(t, err)
	require.NoError(t, f.LoadDir(dir))

	ctx := context.Background()
	c, err := f.LoadContract(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, contracts.ContentTypeScript, c.ContentType)
	assert.JSONEq(t, `{"counter":0}`, string(c.InitState))
	assert.Contains(t, string(c.Source), "export function handle")

	txs, err := f.LoadInteractions(ctx, "counter", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-1", txs[0].ID)
	in, err := txs[1].Input()
	require.NoError(t, err)
	assert.JSONEq(t, `{"function":"bump"}`, string(in))
	assert.Equal(t, int64(20), txs[1].Block.Timestamp)

	src, err := f.LoadSource(ctx, "next-src")
	require.NoError(t, err)
	assert.Equal(t, contracts.ContentTypeWasm, src.ContentType)
	assert.Equal(t, []byte{0, 'a', 's', 'm'}, src.Code)
}

func TestFixtures_SchemaRejectsInvalidDocuments(t *testing.T) {
	f, err := NewFixtures()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
	}{
		{"missing init state", `{"contracts":[{"id":"c","content_type":"js","source":"x"}]}`},
		{"no source", `{"contracts":[{"id":"c","content_type":"js","init_state":{}}]}`},
		{"negative height", `{"contracts":[{"id":"c","content_type":"js","source":"x","init_state":{},"interactions":[{"id":"t","owner":"o","block":{"height":-1,"id":"b"}}]}]}`},
		{"unknown key", `{"wallets":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Load([]byte(tt.doc), ".")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
		})
	}
}

func TestFixtures_UnknownContentType(t *testing.T) {
	f, err := NewFixtures()
	require.NoError(t, err)
	err = f.Load([]byte(`{"contracts":[{"id":"c","content_type":"text/x-lua","source":"x","init_state":{}}]}`), ".")
	assert.ErrorIs(t, err, contracts.ErrUnsupportedContractType)
}
