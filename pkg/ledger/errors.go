// Copyright 2025 Certen Protocol
//
// Package ledger maintains the append-only chain of blocks, assigns block
// numbers, computes block and Merkle hashes, and orchestrates replay.
package ledger

import "errors"

// Sentinel errors for ledger operations.
var (
	// ErrNotFound is returned by chain/collection lookups that find nothing.
	ErrNotFound = errors.New("ledger: not found")

	// ErrDeterminism is fatal: replay produced a block hash different from
	// the one already committed to the chain. The node must abort.
	ErrDeterminism = errors.New("ledger: replay hash mismatch, determinism violated")

	// ErrContractExists is the ValidationError surfaced when a deploy names
	// an already-used contract.
	ErrContractExists = errors.New("contract already exists")

	// ErrContractNotFound is the ValidationError surfaced when execute
	// targets an unknown contract.
	ErrContractNotFound = errors.New("contract doesn't exist")

	// ErrCreateSSCForbidden guards the one-shot createSSC gate.
	ErrCreateSSCForbidden = errors.New("you cannot trigger the createSSC action")

	// ErrInvalidChain is returned by IsChainValid's callers when they ask
	// for the reason a chain failed validation.
	ErrInvalidChain = errors.New("ledger: chain invalid")
)
