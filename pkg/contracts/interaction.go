package contracts

import (
	"encoding/json"
	"errors"
)

// InputTag is the tag carrying the JSON-encoded contract input.
const InputTag = "Input"

var (
	// ErrMissingInput is returned when an interaction has no Input tag.
	ErrMissingInput = errors.New("contracts: interaction has no input")
	// ErrMalformedInput is returned when the Input tag is not valid JSON.
	ErrMalformedInput = errors.New("contracts: interaction input is not valid JSON")
)

// Tag is a single (name, value) transaction tag.
type Tag struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Block is the ledger block an interaction was mined in.
// Timestamp is in seconds.
type Block struct {
	Height    uint64 `json:"height" yaml:"height"`
	ID        string `json:"id" yaml:"id"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}

// Interaction is one ledger transaction tagged against a contract.
type Interaction struct {
	ID              string `json:"id" yaml:"id"`
	Owner           string `json:"owner" yaml:"owner"`
	Target          string `json:"target,omitempty" yaml:"target,omitempty"`
	Quantity        string `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Reward          string `json:"reward,omitempty" yaml:"reward,omitempty"`
	Tags            []Tag  `json:"tags" yaml:"tags"`
	Block           Block  `json:"block" yaml:"block"`
	BundledParentID string `json:"bundled_in,omitempty" yaml:"bundled_in,omitempty"`
}

// Tag returns the value of the first tag with the given name.
func (i *Interaction) Tag(name string) (string, bool) {
	for _, t := range i.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Input parses the interaction's Input tag.
func (i *Interaction) Input() (json.RawMessage, error) {
	raw, ok := i.Tag(InputTag)
	if !ok {
		return nil, ErrMissingInput
	}
	if !json.Valid([]byte(raw)) {
		return nil, ErrMalformedInput
	}
	return json.RawMessage(raw), nil
}

// Clone returns a deep copy so a runtime cannot alias the loader's slices.
func (i *Interaction) Clone() Interaction {
	c := *i
	c.Tags = append([]Tag(nil), i.Tags...)
	return c
}
