package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/Mindburn-Labs/weave/pkg/canonicalize"
)

// ErrSnapshotNotFound is returned when no namespace was saved for a contract.
var ErrSnapshotNotFound = errors.New("kv: snapshot not found")

const snapshotPrefix = "kv/"

// LevelDBSnapshots persists exported namespaces between evaluations, keyed
// by contract id. The engine itself never reads it; callers inject the
// loaded namespace into an evaluation and save the exported one after.
type LevelDBSnapshots struct {
	db *leveldb.DB
}

// OpenLevelDBSnapshots opens or creates a LevelDB database at path.
// An empty path uses in-memory storage.
func OpenLevelDBSnapshots(path string) (*LevelDBSnapshots, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("kv: open snapshot database at %q: %w", path, err)
	}
	return &LevelDBSnapshots{db: db}, nil
}

// Save stores the namespace for contractID, replacing any previous one.
// Entries keep their insertion order; values are stored canonicalized.
func (s *LevelDBSnapshots) Save(contractID string, ns *Namespace) error {
	data, err := canonicalize.Value(ns.Entries())
	if err != nil {
		return fmt.Errorf("kv: encode snapshot: %w", err)
	}
	return s.db.Put([]byte(snapshotPrefix+contractID), data, nil)
}

// Load restores the namespace saved for contractID.
func (s *LevelDBSnapshots) Load(contractID string) (*Namespace, error) {
	data, err := s.db.Get([]byte(snapshotPrefix+contractID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: load snapshot %s: %w", contractID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("kv: decode snapshot %s: %w", contractID, err)
	}
	return FromEntries(entries), nil
}

// Delete removes the snapshot for contractID.
func (s *LevelDBSnapshots) Delete(contractID string) error {
	return s.db.Delete([]byte(snapshotPrefix+contractID), nil)
}

// Close releases the database.
func (s *LevelDBSnapshots) Close() error {
	return s.db.Close()
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
