package contracts

import (
	"errors"
	"fmt"
)

// Deterministic error codes surfaced by the engine.
const (
	CodeCompileError            = "COMPILE_ERROR"
	CodeContractError           = "CONTRACT_ERROR"
	CodeSelfRead                = "SELF_READ"
	CodeUnsupportedContractType = "UNSUPPORTED_CONTRACT_TYPE"
	CodeInvalidRange            = "INVALID_RANGE"
	CodeInvalidLimit            = "INVALID_LIMIT"
	CodeFetchCacheMiss          = "FETCH_CACHE_MISS"
	CodeDestroyed               = "DESTROYED"
	CodeFCPDepthExceeded        = "FCP_DEPTH_EXCEEDED"
	CodeFCPCycle                = "FCP_CYCLE"
	CodeContractNotFound        = "CONTRACT_NOT_FOUND"
)

// EvaluationError is a typed, deterministic engine error.
type EvaluationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Is matches any EvaluationError carrying the same code, so callers can
// write errors.Is(err, contracts.ErrSelfRead).
func (e *EvaluationError) Is(target error) bool {
	var t *EvaluationError
	if errors.As(target, &t) {
		return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrCompile                 = &EvaluationError{Code: CodeCompileError}
	ErrSelfRead                = &EvaluationError{Code: CodeSelfRead}
	ErrUnsupportedContractType = &EvaluationError{Code: CodeUnsupportedContractType}
	ErrInvalidRange            = &EvaluationError{Code: CodeInvalidRange}
	ErrInvalidLimit            = &EvaluationError{Code: CodeInvalidLimit}
	ErrFetchCacheMiss          = &EvaluationError{Code: CodeFetchCacheMiss}
	ErrDestroyed               = &EvaluationError{Code: CodeDestroyed}
	ErrFCPDepthExceeded        = &EvaluationError{Code: CodeFCPDepthExceeded}
	ErrFCPCycle                = &EvaluationError{Code: CodeFCPCycle}
	ErrContractNotFound        = &EvaluationError{Code: CodeContractNotFound}
)

// NewError builds an EvaluationError with a formatted message.
func NewError(code, format string, args ...any) *EvaluationError {
	return &EvaluationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ContractError is raised by contract code, either through ContractAssert
// or by throwing ContractError directly. It marks the interaction invalid.
type ContractError struct {
	Message string
}

func (e *ContractError) Error() string {
	return "ContractError: " + e.Message
}

// Is reports a ContractError as CONTRACT_ERROR for errors.Is.
func (e *ContractError) Is(target error) bool {
	var t *EvaluationError
	return errors.As(target, &t) && t.Code == CodeContractError
}

// ErrContract matches any *ContractError via errors.Is.
var ErrContract = &EvaluationError{Code: CodeContractError}
