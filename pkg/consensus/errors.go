package consensus

import "errors"

// Sentinel errors for the round coordinator.
var (
	// ErrConsensusMismatch is the non-fatal "round hash different" reply:
	// retry after 3s, no dispute escalation.
	ErrConsensusMismatch = errors.New("round hash different")

	// ErrInvalidSignature covers handshake and proposal signature failures.
	// The socket or message is dropped, never a panic.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNotScheduled is returned when a peer proposes or verifies a round
	// it is not listed in the schedule for.
	ErrNotScheduled = errors.New("witness not scheduled for round")

	// ErrNotAuthenticated is returned when a message arrives over a socket
	// that has not completed the handshake.
	ErrNotAuthenticated = errors.New("peer not authenticated")

	// ErrMalformed covers signature length, hash length, or round type
	// violations in an incoming frame.
	ErrMalformed = errors.New("malformed proposal fields")

	// ErrTransport covers anchor RPC or peer socket failures. Retried with
	// backoff and endpoint rotation.
	ErrTransport = errors.New("transport failure")
)
