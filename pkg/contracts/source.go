// Package contracts defines the data model shared by every part of the
// execution engine: contract sources, interactions, validity maps,
// evaluation results and engine settings.
package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType is the declared execution strategy of a contract.
type ContentType string

const (
	// ContentTypeScript is an interpreted JavaScript contract.
	ContentTypeScript ContentType = "application/javascript"
	// ContentTypeWasm is a WebAssembly contract using the 3em ABI.
	ContentTypeWasm ContentType = "application/wasm"
	// ContentTypeEVM is hex-encoded EVM bytecode.
	ContentTypeEVM ContentType = "application/octet-stream"
)

// ParseContentType maps a declared content type (or its short alias) to a
// ContentType. Unknown values fail with ErrUnsupportedContractType.
func ParseContentType(s string) (ContentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ContentTypeScript), "text/javascript", "script", "js":
		return ContentTypeScript, nil
	case string(ContentTypeWasm), "wasm":
		return ContentTypeWasm, nil
	case string(ContentTypeEVM), "evm", "evm-bytecode":
		return ContentTypeEVM, nil
	default:
		return "", &EvaluationError{
			Code:    CodeUnsupportedContractType,
			Message: fmt.Sprintf("unsupported contract content type %q", s),
		}
	}
}

// ContractSource is a loaded contract. Immutable once loaded.
type ContractSource struct {
	ID          string          `json:"id" yaml:"id"`
	Owner       string          `json:"owner,omitempty" yaml:"owner,omitempty"`
	SourceID    string          `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	ContentType ContentType     `json:"content_type" yaml:"content_type"`
	Source      []byte          `json:"source" yaml:"-"`
	InitState   json.RawMessage `json:"init_state" yaml:"-"`
	Height      uint64          `json:"height,omitempty" yaml:"height,omitempty"`
}

// WithSource returns a copy of the contract carrying a replacement source,
// used when a contract evolves to new code.
func (c *ContractSource) WithSource(sourceID string, contentType ContentType, src []byte) *ContractSource {
	next := *c
	next.SourceID = sourceID
	next.ContentType = contentType
	next.Source = append([]byte(nil), src...)
	return &next
}
