// Copyright 2025 Certen Protocol
//
// Package execution runs contract code deterministically inside a bounded
// sandbox, exposing a fixed host API, and collecting structured logs.
package execution

import "errors"

// Sentinel errors for execution operations.
var (
	// ErrTimeout is the TimeoutError: the sandbox exceeded jsVMTimeout.
	// Treated as a ContractError by callers.
	ErrTimeout = errors.New("execution: vm timeout exceeded")

	// ErrDepthExceeded is returned when executeSmartContract reentrancy
	// would exceed the configured call-stack depth limit.
	ErrDepthExceeded = errors.New("execution: contract call depth exceeded")

	// ErrCreateSSCForbidden guards createSSC from being reached via
	// executeSmartContract.
	ErrCreateSSCForbidden = errors.New("you cannot trigger the createSSC action")

	// ErrUnknownAction is returned when action does not resolve to a
	// handler registered by the contract's createSSC.
	ErrUnknownAction = errors.New("execution: unknown action")
)
