// Package loader supplies contracts and their interactions to the executor.
// The engine never talks to a gateway itself; a Loader hands it an already
// ordered interaction list.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Source is a contract source transaction. Evolving contracts switch to a
// new Source mid-replay.
type Source struct {
	ID          string                `json:"id" yaml:"id"`
	ContentType contracts.ContentType `json:"content_type" yaml:"content_type"`
	Code        []byte                `json:"-" yaml:"-"`
}

// Loader is the contract and interaction source of an evaluation.
type Loader interface {
	// LoadContract returns the contract with its current source and
	// initial state. Unknown ids fail with contracts.ErrContractNotFound.
	LoadContract(ctx context.Context, contractID string) (*contracts.ContractSource, error)
	// LoadInteractions returns the contract's interactions in ledger order,
	// stopping at maxHeight. Zero means every known interaction.
	LoadInteractions(ctx context.Context, contractID string, maxHeight uint64) ([]contracts.Interaction, error)
	// LoadSource returns a source transaction by id.
	LoadSource(ctx context.Context, sourceID string) (*Source, error)
}

// NotFound builds the error returned for unknown contracts and sources.
func NotFound(kind, id string) error {
	return contracts.NewError(contracts.CodeContractNotFound, "%s %s not found", kind, id)
}

// SortKey is the ledger ordering key of an interaction: the zero-padded
// block height, then the hex SHA-256 of block id and transaction id.
func SortKey(tx *contracts.Interaction) string {
	sum := sha256.Sum256([]byte(tx.Block.ID + tx.ID))
	return fmt.Sprintf("%012d,%s", tx.Block.Height, hex.EncodeToString(sum[:]))
}

// Sort orders interactions by SortKey in place.
func Sort(txs []contracts.Interaction) {
	keys := make(map[string]string, len(txs))
	for i := range txs {
		keys[txs[i].ID] = SortKey(&txs[i])
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return keys[txs[i].ID] < keys[txs[j].ID]
	})
}

// UpTo returns the prefix of ordered interactions at or below maxHeight.
func UpTo(txs []contracts.Interaction, maxHeight uint64) []contracts.Interaction {
	if maxHeight == 0 {
		return txs
	}
	n := sort.Search(len(txs), func(i int) bool { return txs[i].Block.Height > maxHeight })
	return txs[:n]
}
