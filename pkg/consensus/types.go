// Copyright 2025 Certen Protocol
package consensus

import "time"

// Witness is a node authorized to sign rounds, as registered in the
// witnesses contract: an account name, its registered signing key, and the
// IP it is expected to connect from.
type Witness struct {
	Account      string `json:"account"`
	SigningKey   string `json:"signingKey"`             // hex-encoded secp256k1 public key
	BLSPublicKey string `json:"blsPublicKey,omitempty"` // hex-encoded BLS12-381 public key, empty on witnesses that predate the aggregate companion
	IP           string `json:"ip"`
}

// ScheduleEntry is one {round, witness} row: witness participates in
// verifying round.
type ScheduleEntry struct {
	Round   uint64 `json:"round"`
	Witness string `json:"witness"`
}

// Params is the global round-progress record read from the witnesses
// contract's table.
type Params struct {
	Round                   uint64 `json:"round"`
	LastBlockRound          uint64 `json:"lastBlockRound"`
	LastVerifiedBlockNumber uint64 `json:"lastVerifiedBlockNumber"`
	CurrentWitness          string `json:"currentWitness"`
}

// WitnessSignature pairs a witness account with its signature over a round
// hash, plus its optional BLS companion signature over the same hash.
type WitnessSignature struct {
	WitnessAccount  string `json:"witnessAccount"`
	SignatureHex    string `json:"signatureHex"`
	BLSSignatureHex string `json:"blsSignatureHex,omitempty"`
}

// RoundProposition is the in-memory, per-witness state of a round being
// proposed: finalized and discarded once anchored. BLSAggregateHex is
// filled in at submit time from whichever signers contributed a BLS
// signature; it is never required for quorum.
type RoundProposition struct {
	Round           uint64             `json:"round"`
	RoundHash       string             `json:"roundHash"`
	Signatures      []WitnessSignature `json:"signatures"`
	BLSAggregateHex string             `json:"blsAggregateHex,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	Ticks           int                `json:"ticks"`
}

// hasSignatureFrom reports whether account already contributed a signature
// to this proposition, guarding against a duplicate ack triggering a
// redundant submission.
func (p *RoundProposition) hasSignatureFrom(account string) bool {
	for _, s := range p.Signatures {
		if s.WitnessAccount == account {
			return true
		}
	}
	return false
}

// ProposalAck is the wire reply to a proposeRound request: either an error
// string (ConsensusMismatch/SignatureError) or the responder's own
// signature over the round hash it computed.
type ProposalAck struct {
	Error           string `json:"error,omitempty"`
	Round           uint64 `json:"round,omitempty"`
	RoundHash       string `json:"roundHash,omitempty"`
	SignatureHex    string `json:"signature,omitempty"`
	BLSSignatureHex string `json:"blsSignature,omitempty"`
}
