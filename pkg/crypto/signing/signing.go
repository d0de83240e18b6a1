// Copyright 2025 Certen Protocol
//
// Package signing provides the ECDSA secp256k1 sign/verify operations used
// by witnesses: round-hash proposals, handshake challenges, and proposal
// acks are all signed and verified here. Signatures serialize as 130-char
// hex (the anchor chain's key format, matching go-ethereum's 65-byte
// recoverable signature encoding).
package signing

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature fails to parse or does
// not verify against the expected key.
var ErrInvalidSignature = errors.New("signing: invalid signature")

// PrivateKey wraps an ECDSA secp256k1 private key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// PublicKey wraps an ECDSA secp256k1 public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// GenerateKey creates a fresh secp256k1 key pair.
func GenerateKey() (*PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 private key, as stored on
// disk by SaveKey/LoadKey.
func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("signing: parse private key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// Hex renders the private key as lowercase hex.
func (p *PrivateKey) Hex() string {
	return hex.EncodeToString(crypto.FromECDSA(p.key))
}

// PublicKey derives the corresponding public key.
func (p *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: &p.key.PublicKey}
}

// Account derives a witness account identifier from the public key. This is
// an internal convenience, not part of the anchor chain's own account
// naming, which is registered separately in the witnesses contract.
func (p *PrivateKey) Account() string {
	return p.PublicKey().Account()
}

// Sign signs the SHA-256 digest of message, returning the 130-char hex
// signature convention fixed by the wire format.
func (p *PrivateKey) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := crypto.Sign(digest[:], p.key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// SignDigest signs a raw 32-byte digest directly (used when the payload is
// already a hash, e.g. a round hash).
func (p *PrivateKey) SignDigest(digest [32]byte) (string, error) {
	sig, err := crypto.Sign(digest[:], p.key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// PublicKeyFromHex parses an uncompressed or compressed hex-encoded
// secp256k1 public key.
func PublicKeyFromHex(s string) (*PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	key, err := crypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("signing: parse public key: %w", err)
	}
	return &PublicKey{key: key}, nil
}

// Hex renders the public key in uncompressed form.
func (p *PublicKey) Hex() string {
	return hex.EncodeToString(crypto.FromECDSAPub(p.key))
}

// Account derives a short identifier from the public key, used only where
// the caller has no registered account name to hand (tests, key generation
// output); production witness identity comes from the witnesses contract.
func (p *PublicKey) Account() string {
	addr := crypto.PubkeyToAddress(*p.key)
	return addr.Hex()
}

// Verify checks sigHex (130-char hex) against message under this public key.
func (p *PublicKey) Verify(message []byte, sigHex string) (bool, error) {
	digest := sha256.Sum256(message)
	return VerifyDigest(p, digest, sigHex)
}

// VerifyDigest checks sigHex against a raw 32-byte digest under pub.
func VerifyDigest(pub *PublicKey, digest [32]byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("%w: expected 65-byte signature, got %d", ErrInvalidSignature, len(sig))
	}
	// crypto.Ecrecover/SigToPub want the 65-byte [R || S || V] form; strip
	// the recovery byte for crypto.VerifySignature, which expects 64 bytes.
	sigNoRecoverID := sig[:64]
	pubBytes := crypto.FromECDSAPub(pub.key)
	return crypto.VerifySignature(pubBytes, digest[:], sigNoRecoverID), nil
}

// RecoverPublicKey recovers the signer's public key from a message and its
// 130-char hex signature — used by the handshake verifier when the peer's
// registered signingKey is looked up by account rather than handed inline.
func RecoverPublicKey(message []byte, sigHex string) (*PublicKey, error) {
	digest := sha256.Sum256(message)
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return &PublicKey{key: pub}, nil
}

// KeyManager loads or generates a witness's signing key from disk, mirroring
// the load-or-generate convention used for the node's other key material.
type KeyManager struct {
	keyPath    string
	privateKey *PrivateKey
}

// NewKeyManager creates a key manager rooted at keyPath.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadOrGenerate loads the key at keyPath if present, otherwise generates
// and persists a new one.
func (km *KeyManager) LoadOrGenerate() (*PrivateKey, error) {
	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.Load()
		}
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	km.privateKey = key
	if km.keyPath != "" {
		if err := km.Save(); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// Load reads and parses the hex-encoded key file at keyPath.
func (km *KeyManager) Load() (*PrivateKey, error) {
	if km.keyPath == "" {
		return nil, errors.New("signing: no key path specified")
	}
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return nil, fmt.Errorf("signing: read key file: %w", err)
	}
	key, err := PrivateKeyFromHex(string(data))
	if err != nil {
		return nil, err
	}
	km.privateKey = key
	return key, nil
}

// Save writes the current private key to keyPath as hex, with owner-only
// permissions.
func (km *KeyManager) Save() error {
	if km.keyPath == "" {
		return errors.New("signing: no key path specified")
	}
	if km.privateKey == nil {
		return errors.New("signing: no private key to save")
	}
	if err := os.MkdirAll(filepath.Dir(km.keyPath), 0700); err != nil {
		return fmt.Errorf("signing: create key directory: %w", err)
	}
	return os.WriteFile(km.keyPath, []byte(km.privateKey.Hex()), 0600)
}
