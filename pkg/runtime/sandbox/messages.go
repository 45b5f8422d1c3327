package sandbox

import (
	"encoding/json"

	"github.com/Mindburn-Labs/weave/pkg/contracts"
)

// Message is one envelope of the sandbox protocol. The set is closed:
// Execute and ForeignCallResponse flow into the sandbox, Result and
// ForeignCallRequest flow out.
type Message interface {
	isMessage()
}

// Execute applies one action to State. Interaction is nil in simulation
// mode, where no transaction or block context is bound.
type Execute struct {
	State       json.RawMessage
	Input       json.RawMessage
	Caller      string
	Interaction *contracts.Interaction
}

// ForeignCallRequest suspends the sandbox until the named contract's state
// is supplied with a ForeignCallResponse. Height is zero when the contract
// did not pass one; CurrentHeight is the height of the interaction being
// applied.
type ForeignCallRequest struct {
	ContractID    string
	Height        uint64
	CurrentHeight uint64
	ShowValidity  bool
}

// ForeignCallResponse resumes a suspended sandbox. A non-nil Err rejects
// the contract's pending read.
type ForeignCallResponse struct {
	State    json.RawMessage
	Validity *contracts.ValidityMap
	Err      error
}

// Result is the outcome of one Execute.
//
// HasState is false when handle returned an object without a state field.
// Err is an in-interaction failure (contract throw, bad return value) and
// never aborts a replay. Fatal is an evaluation-level failure such as a
// self-read, raised even if contract code swallowed the exception.
type Result struct {
	State    json.RawMessage
	HasState bool
	Result   json.RawMessage
	Err      error
	Fatal    error
}

func (Execute) isMessage()             {}
func (ForeignCallRequest) isMessage()  {}
func (ForeignCallResponse) isMessage() {}
func (Result) isMessage()              {}
