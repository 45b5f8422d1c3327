// Package canonicalize digests contract state so replays of the same
// interactions can be compared byte for byte. State is brought to its
// RFC 8785 form first, so key order and number spelling never change a
// digest.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

const digestPrefix = "sha256:"

// State returns the canonical form of a state document. An empty document
// is treated as JSON null, the state of a contract that never wrote one.
func State(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize state: %w", err)
	}
	return out, nil
}

// Value encodes v with encoding/json, so struct tags apply, and returns
// the canonical form of the result.
func Value(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize value: %w", err)
	}
	return State(raw)
}

// StateDigest returns "sha256:<hex>" over the canonical form of raw.
func StateDigest(raw json.RawMessage) (string, error) {
	b, err := State(raw)
	if err != nil {
		return "", err
	}
	return digestPrefix + HashBytes(b), nil
}

// InputDigest hashes an interaction input. Inputs that are valid JSON are
// canonicalized first; anything else, such as EVM calldata, is hashed as is.
func InputDigest(raw []byte) string {
	if json.Valid(raw) {
		if b, err := jcs.Transform(raw); err == nil {
			return HashBytes(b)
		}
	}
	return HashBytes(raw)
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
