// Copyright 2025 Certen Protocol
//
// Package consensus implements the per-witness round-agreement state
// machine: propose a round hash when scheduled, verify peers' proposals,
// aggregate signatures to quorum, and submit the signed round to the anchor
// chain.
package consensus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/certen/sidechain-node/pkg/crypto/blsagg"
	"github.com/certen/sidechain-node/pkg/crypto/signing"
	"github.com/certen/sidechain-node/pkg/metrics"
)

// defaultTickInterval is the spec's fixed 3-second tick.
const defaultTickInterval = 3 * time.Second

// defaultMaxWaitingPeriods is MAX_PROPOSITION_WAITING_PERIODS.
const defaultMaxWaitingPeriods = 20

// ParamsSource reads the global round-progress record, normally backed by
// the witnesses contract's params table via the ledger's document store.
type ParamsSource interface {
	GetParams() (*Params, error)
}

// ScheduleSource lists which witness accounts participate in verifying a
// given round.
type ScheduleSource interface {
	GetSchedule(round uint64) ([]string, error)
}

// WitnessRegistry resolves a witness account to its registered signing key
// and IP.
type WitnessRegistry interface {
	GetWitness(account string) (*Witness, error)
}

// AnchorSubmitter posts the quorum-signed round to the external anchor
// chain as a proposeRound custom JSON. blsAggregateHex is the compact BLS
// companion artifact computed over the same signer set, or empty if fewer
// than two signers produced a BLS signature.
type AnchorSubmitter interface {
	SubmitProposeRound(ctx context.Context, round uint64, roundHash string, signatures []WitnessSignature, blsAggregateHex string) error
}

// Transport sends a proposeRound request to one peer witness and invokes
// onAck exactly once, asynchronously, with the peer's reply or a transport
// error. This models the single async handler the reference's event loop
// would register as a pending callback.
type Transport interface {
	ProposeRound(target Witness, round uint64, roundHash, signatureHex string, onAck func(ack *ProposalAck, err error))
}

// Config parameterizes a Coordinator away from the reference's hardcoded
// constants.
type Config struct {
	Quorum            int
	TickInterval      time.Duration
	MaxWaitingPeriods int
}

// DefaultConfig returns the reference parameterization: quorum 3 of 4
// witnesses, 3s ticks, 20-tick timeout.
func DefaultConfig() Config {
	return Config{Quorum: 3, TickInterval: defaultTickInterval, MaxWaitingPeriods: defaultMaxWaitingPeriods}
}

// Coordinator is the single value owning all of the reference's
// module-level mutable state (currentRound, lastProposedRound, sockets,
// …), replacing the global-singleton pattern so multiple instances can run
// side by side in tests.
type Coordinator struct {
	cfg Config

	self       Witness
	privateKey *signing.PrivateKey
	blsKey     *blsagg.PrivateKey // optional: nil disables the BLS aggregate companion entirely

	blocks    BlockHashSource
	params    ParamsSource
	schedule  ScheduleSource
	witnesses WitnessRegistry
	anchor    AnchorSubmitter
	wire      Transport

	logger *log.Logger

	mu                      sync.Mutex
	currentRound            uint64
	lastBlockRound          uint64
	lastVerifiedBlockNumber uint64
	currentWitness          string
	lastProposedRound       uint64
	lastVerifiedRound       uint64
	proposition             *RoundProposition
	sendingToAnchor         bool

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator for witness self, signing rounds with key.
func New(cfg Config, self Witness, key *signing.PrivateKey, blocks BlockHashSource, params ParamsSource, schedule ScheduleSource, witnesses WitnessRegistry, anchor AnchorSubmitter, wire Transport) *Coordinator {
	if cfg.Quorum == 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		cfg:       cfg,
		self:      self,
		privateKey: key,
		blocks:    blocks,
		params:    params,
		schedule:  schedule,
		witnesses: witnesses,
		anchor:    anchor,
		wire:      wire,
		logger:    log.New(log.Writer(), "[RoundCoordinator] ", log.LstdFlags),
	}
}

// SetBLSKey opts this Coordinator into producing and verifying BLS12-381
// companion signatures alongside the authoritative secp256k1 quorum list.
// Left unset (nil), the Coordinator behaves exactly as before: no BLS
// fields are ever populated. Set as a post-construction step, mirroring
// PeerManager.BindCoordinator, since the key is loaded from config
// independently of the rest of the wiring.
func (c *Coordinator) SetBLSKey(key *blsagg.PrivateKey) { c.blsKey = key }

// Start launches the repeating tick loop. Absence of ACCOUNT/ACTIVE_SIGNING_KEY
// disables the coordinator entirely at the caller's level (see pkg/config);
// Start assumes both self and privateKey are already populated.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.ticker = time.NewTicker(c.cfg.TickInterval)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-c.ticker.C:
				c.tick(runCtx)
			}
		}
	}()
}

// Stop clears the tick timer; in-flight anchor submissions are allowed to
// drain (Stop does not cancel a submission already in progress).
func (c *Coordinator) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// tick reads the latest params, updates local round tracking, and takes
// exactly one of Propose/Aggregate-is-passive/Timeout per the spec's state
// machine. Aggregation itself happens asynchronously as acks arrive via
// HandleProposalAck; tick only drives proposal and timeout.
func (c *Coordinator) tick(ctx context.Context) {
	p, err := c.params.GetParams()
	if err != nil {
		c.logger.Printf("read params: %v", err)
		return
	}

	c.mu.Lock()
	c.currentRound = p.Round
	c.lastBlockRound = p.LastBlockRound
	c.currentWitness = p.CurrentWitness
	prop := c.proposition
	lastProposed := c.lastProposedRound
	c.mu.Unlock()

	if prop != nil {
		c.mu.Lock()
		prop.Ticks++
		timedOut := prop.Ticks >= c.cfg.MaxWaitingPeriods
		c.mu.Unlock()
		if timedOut {
			c.timeoutProposition(p.Round)
		}
		return
	}

	if c.currentWitness == c.self.Account && p.Round > lastProposed {
		c.propose(ctx, p)
	}
}

// propose computes the round hash, signs it, records the proposer's own
// signature first, and broadcasts proposeRound to every other scheduled
// witness.
func (c *Coordinator) propose(ctx context.Context, p *Params) {
	from := p.LastVerifiedBlockNumber + 1
	to := p.LastBlockRound
	if to < from {
		return
	}
	roundHash, err := RoundHash(from, to, c.blocks)
	if err != nil {
		c.logger.Printf("compute round hash: %v", err)
		return
	}

	sigHex, err := c.privateKey.Sign([]byte(roundHash))
	if err != nil {
		c.logger.Printf("sign round hash: %v", err)
		return
	}
	ownSig := WitnessSignature{WitnessAccount: c.self.Account, SignatureHex: sigHex}
	if c.blsKey != nil {
		ownSig.BLSSignatureHex = c.blsKey.Sign([]byte(roundHash)).Hex()
	}

	prop := &RoundProposition{
		Round:      p.Round,
		RoundHash:  roundHash,
		Signatures: []WitnessSignature{ownSig},
		StartedAt:  time.Now(),
	}

	c.mu.Lock()
	c.proposition = prop
	c.mu.Unlock()
	metrics.RoundsProposed.Inc()

	accounts, err := c.schedule.GetSchedule(p.Round)
	if err != nil {
		c.logger.Printf("read schedule: %v", err)
		return
	}
	for _, account := range accounts {
		if account == c.self.Account {
			continue
		}
		w, err := c.witnesses.GetWitness(account)
		if err != nil {
			c.logger.Printf("resolve witness %s: %v", account, err)
			continue
		}
		c.wire.ProposeRound(*w, p.Round, roundHash, sigHex, func(ack *ProposalAck, err error) {
			c.handleAck(ctx, account, ack, err)
		})
	}
}

// handleAck is the Aggregate step: verify a peer's reply, append its
// signature, and submit once quorum is reached.
func (c *Coordinator) handleAck(ctx context.Context, peerAccount string, ack *ProposalAck, err error) {
	if err != nil {
		c.logger.Printf("proposeRound to %s: %v", peerAccount, err)
		return
	}
	if ack == nil || ack.Error != "" {
		if ack != nil && ack.Error != "" {
			c.logger.Printf("peer %s rejected proposal: %s", peerAccount, ack.Error)
		}
		return
	}

	c.mu.Lock()
	prop := c.proposition
	c.mu.Unlock()
	if prop == nil || ack.Round != prop.Round || ack.RoundHash != prop.RoundHash {
		return
	}

	w, err := c.witnesses.GetWitness(peerAccount)
	if err != nil {
		c.logger.Printf("resolve witness %s: %v", peerAccount, err)
		return
	}
	pub, err := signing.PublicKeyFromHex(w.SigningKey)
	if err != nil {
		c.logger.Printf("parse signing key for %s: %v", peerAccount, err)
		return
	}
	ok, err := pub.Verify([]byte(ack.RoundHash), ack.SignatureHex)
	if err != nil || !ok {
		c.logger.Printf("signature from %s did not verify", peerAccount)
		return
	}

	peerSig := WitnessSignature{WitnessAccount: peerAccount, SignatureHex: ack.SignatureHex}
	if ack.BLSSignatureHex != "" && w.BLSPublicKey != "" {
		if blsSig, err := c.verifyBLSAck(w, ack); err == nil {
			peerSig.BLSSignatureHex = blsSig
		} else {
			c.logger.Printf("bls companion signature from %s did not verify, omitting from aggregate: %v", peerAccount, err)
		}
	}

	c.mu.Lock()
	if prop.hasSignatureFrom(peerAccount) {
		c.mu.Unlock()
		return
	}
	prop.Signatures = append(prop.Signatures, peerSig)
	reachedQuorum := len(prop.Signatures) >= c.cfg.Quorum
	alreadySending := c.sendingToAnchor
	if reachedQuorum && !alreadySending {
		c.sendingToAnchor = true
	}
	c.mu.Unlock()

	if reachedQuorum && !alreadySending {
		c.submit(ctx, prop)
	}
}

// verifyBLSAck checks ack's BLS companion signature against w's registered
// BLS public key and returns it hex-encoded if valid.
func (c *Coordinator) verifyBLSAck(w *Witness, ack *ProposalAck) (string, error) {
	pub, err := blsagg.PublicKeyFromHex(w.BLSPublicKey)
	if err != nil {
		return "", err
	}
	sig, err := blsagg.SignatureFromHex(ack.BLSSignatureHex)
	if err != nil {
		return "", err
	}
	if !pub.Verify([]byte(ack.RoundHash), sig) {
		return "", ErrInvalidSignature
	}
	return ack.BLSSignatureHex, nil
}

// aggregateBLS combines every signer's BLS companion signature into the
// compact artifact stored alongside prop's individual signature list. It
// returns an empty string when fewer than two signers contributed one,
// since a single signature is already as compact as its own aggregate.
func aggregateBLS(signatures []WitnessSignature) string {
	var sigs []*blsagg.Signature
	for _, s := range signatures {
		if s.BLSSignatureHex == "" {
			continue
		}
		sig, err := blsagg.SignatureFromHex(s.BLSSignatureHex)
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) < 2 {
		return ""
	}
	agg, err := blsagg.AggregateSignatures(sigs)
	if err != nil {
		return ""
	}
	return agg.Hex()
}

// submit serializes anchor posting via the sendingToAnchor flag: at most
// one custom JSON in flight.
func (c *Coordinator) submit(ctx context.Context, prop *RoundProposition) {
	prop.BLSAggregateHex = aggregateBLS(prop.Signatures)
	err := c.anchor.SubmitProposeRound(ctx, prop.Round, prop.RoundHash, prop.Signatures, prop.BLSAggregateHex)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendingToAnchor = false
	if err != nil {
		c.logger.Printf("anchor submission failed for round %d: %v", prop.Round, err)
		return
	}
	if c.proposition == prop {
		c.proposition = nil
	}
	c.lastProposedRound = prop.Round
	metrics.RoundsAnchored.Inc()
	metrics.QuorumSignatureCount.Set(float64(len(prop.Signatures)))
	c.logger.Printf("round %d anchored with %d signatures", prop.Round, len(prop.Signatures))
}

// timeoutProposition discards an in-flight proposition that failed to reach
// quorum within MaxWaitingPeriods ticks and rewinds lastProposedRound so the
// same round is retried on the next tick.
func (c *Coordinator) timeoutProposition(round uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proposition == nil || c.proposition.Round != round {
		return
	}
	c.logger.Printf("round %d timed out waiting for quorum (%d/%d signatures)", round, len(c.proposition.Signatures), c.cfg.Quorum)
	metrics.RoundsTimedOut.Inc()
	c.proposition = nil
	if round > 0 {
		c.lastProposedRound = round - 1
	}
}

// Self returns the coordinator's own witness identity.
func (c *Coordinator) Self() Witness { return c.self }

// lastVerified is exposed for the verifier side (proposeRoundHandler) to
// update lastVerifiedRoundNumber = max(lastVerifiedRoundNumber, R).
func (c *Coordinator) bumpLastVerifiedRound(round uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if round > c.lastVerifiedRound {
		c.lastVerifiedRound = round
	}
}
