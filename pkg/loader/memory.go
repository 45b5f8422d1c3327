package loader

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Memory is an in-process Loader. Interactions are kept in ledger order
// as they are added.
type Memory struct {
	mu           sync.RWMutex
	contracts    map[string]*contracts.ContractSource
	interactions map[string][]contracts.Interaction
	sources      map[string]*Source
}

// NewMemory returns an empty loader.
func NewMemory() *Memory {
	return &Memory{
		contracts:    make(map[string]*contracts.ContractSource),
		interactions: make(map[string][]contracts.Interaction),
		sources:      make(map[string]*Source),
	}
}

// AddContract registers a contract. Its code is also registered as a
// source when it carries a SourceID.
func (m *Memory) AddContract(c *contracts.ContractSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Source = append([]byte(nil), c.Source...)
	cp.InitState = append(json.RawMessage(nil), c.InitState...)
	m.contracts[c.ID] = &cp
	if c.SourceID != "" {
		if _, ok := m.sources[c.SourceID]; !ok {
			m.sources[c.SourceID] = &Source{ID: c.SourceID, ContentType: c.ContentType, Code: cp.Source}
		}
	}
}

// AddSource registers a source transaction.
func (m *Memory) AddSource(s *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Code = append([]byte(nil), s.Code...)
	m.sources[s.ID] = &cp
}

// AddInteractions appends interactions for contractID and re-sorts.
func (m *Memory) AddInteractions(contractID string, txs ...contracts.Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.interactions[contractID]
	for i := range txs {
		list = append(list, txs[i].Clone())
	}
	Sort(list)
	m.interactions[contractID] = list
}

func (m *Memory) LoadContract(_ context.Context, contractID string) (*contracts.ContractSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return nil, NotFound("contract", contractID)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) LoadInteractions(_ context.Context, contractID string, maxHeight uint64) ([]contracts.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.contracts[contractID]; !ok {
		return nil, NotFound("contract", contractID)
	}
	list := UpTo(m.interactions[contractID], maxHeight)
	out := make([]contracts.Interaction, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out, nil
}

func (m *Memory) LoadSource(_ context.Context, sourceID string) (*Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return nil, NotFound("source", sourceID)
	}
	cp := *s
	return &cp, nil
}
