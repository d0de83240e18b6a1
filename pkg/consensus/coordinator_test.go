package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/certen/sidechain-node/pkg/crypto/blsagg"
	"github.com/certen/sidechain-node/pkg/crypto/signing"
)

type fakeParams struct {
	mu sync.Mutex
	p  Params
}

func (f *fakeParams) GetParams() (*Params, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.p
	return &p, nil
}

func (f *fakeParams) set(p Params) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.p = p
}

type fakeSchedule struct{ accounts []string }

func (f fakeSchedule) GetSchedule(round uint64) ([]string, error) { return f.accounts, nil }

type fakeWitnesses map[string]*Witness

func (f fakeWitnesses) GetWitness(account string) (*Witness, error) { return f[account], nil }

type fakeAnchor struct {
	mu        sync.Mutex
	calls     int
	round     uint64
	sigs      []WitnessSignature
	blsAggHex string
}

func (f *fakeAnchor) SubmitProposeRound(ctx context.Context, round uint64, roundHash string, signatures []WitnessSignature, blsAggregateHex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.round = round
	f.sigs = signatures
	f.blsAggHex = blsAggregateHex
	return nil
}

// loopbackTransportV2 routes ProposeRound calls directly into each target
// witness's own Coordinator.ProposeRoundHandler, simulating an
// already-authenticated socket without any real networking. proposer names
// the account issuing the call so the verifier side can resolve its signing
// key.
type loopbackTransportV2 struct {
	coordsByAccount map[string]*Coordinator
	proposer        string
}

func (l *loopbackTransportV2) ProposeRound(target Witness, round uint64, roundHash, signatureHex string, onAck func(ack *ProposalAck, err error)) {
	c, ok := l.coordsByAccount[target.Account]
	if !ok {
		onAck(nil, ErrTransport)
		return
	}
	ack, err := c.ProposeRoundHandler(l.proposer, true, round, roundHash, signatureHex)
	onAck(ack, err)
}

func mustKey(t *testing.T) *signing.PrivateKey {
	t.Helper()
	k, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func TestCoordinator_ProposeAggregateQuorum(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa", 2: "bb"}

	accounts := []string{"w1", "w2", "w3", "w4"}
	keys := map[string]*signing.PrivateKey{}
	witnesses := fakeWitnesses{}
	for _, a := range accounts {
		k := mustKey(t)
		keys[a] = k
		witnesses[a] = &Witness{Account: a, SigningKey: k.PublicKey().Hex(), IP: a + ":1"}
	}

	schedule := fakeSchedule{accounts: accounts}
	anchor := &fakeAnchor{}

	transport := &loopbackTransportV2{coordsByAccount: map[string]*Coordinator{}}

	coords := map[string]*Coordinator{}
	for _, a := range accounts {
		params := &fakeParams{p: Params{Round: 1, LastBlockRound: 2, LastVerifiedBlockNumber: 0, CurrentWitness: "w1"}}
		cfg := DefaultConfig()
		c := New(cfg, Witness{Account: a, SigningKey: keys[a].PublicKey().Hex()}, keys[a], blocks, params, schedule, witnesses, anchor, transport)
		coords[a] = c
		transport.coordsByAccount[a] = c
	}

	proposer := coords["w1"]
	transport.proposer = "w1"
	p, _ := proposer.params.GetParams()
	proposer.propose(context.Background(), p)

	time.Sleep(10 * time.Millisecond)

	anchor.mu.Lock()
	calls := anchor.calls
	nsigs := len(anchor.sigs)
	anchor.mu.Unlock()

	if calls != 1 {
		t.Fatalf("expected exactly one anchor submission, got %d", calls)
	}
	if nsigs < 3 {
		t.Fatalf("expected at least quorum (3) signatures, got %d", nsigs)
	}
}

// TestCoordinator_ProposeAggregateQuorum_WithBLSCompanion exercises the
// additive BLS aggregate path end to end: every scheduled witness also
// carries a BLS key, so the anchored submission should carry a non-empty
// aggregate that verifies against the aggregate of the signers' BLS public
// keys over the round hash.
func TestCoordinator_ProposeAggregateQuorum_WithBLSCompanion(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa", 2: "bb"}

	accounts := []string{"w1", "w2", "w3", "w4"}
	keys := map[string]*signing.PrivateKey{}
	blsKeys := map[string]*blsagg.PrivateKey{}
	blsPubs := map[string]*blsagg.PublicKey{}
	witnesses := fakeWitnesses{}
	for _, a := range accounts {
		k := mustKey(t)
		keys[a] = k
		blsPriv, blsPub, err := blsagg.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate bls key: %v", err)
		}
		blsKeys[a] = blsPriv
		blsPubs[a] = blsPub
		witnesses[a] = &Witness{Account: a, SigningKey: k.PublicKey().Hex(), BLSPublicKey: blsPub.Hex(), IP: a + ":1"}
	}

	schedule := fakeSchedule{accounts: accounts}
	anchor := &fakeAnchor{}
	transport := &loopbackTransportV2{coordsByAccount: map[string]*Coordinator{}}

	coords := map[string]*Coordinator{}
	for _, a := range accounts {
		params := &fakeParams{p: Params{Round: 1, LastBlockRound: 2, LastVerifiedBlockNumber: 0, CurrentWitness: "w1"}}
		cfg := DefaultConfig()
		c := New(cfg, Witness{Account: a, SigningKey: keys[a].PublicKey().Hex(), BLSPublicKey: blsPubs[a].Hex()}, keys[a], blocks, params, schedule, witnesses, anchor, transport)
		c.SetBLSKey(blsKeys[a])
		coords[a] = c
		transport.coordsByAccount[a] = c
	}

	proposer := coords["w1"]
	transport.proposer = "w1"
	p, _ := proposer.params.GetParams()
	proposer.propose(context.Background(), p)

	time.Sleep(10 * time.Millisecond)

	anchor.mu.Lock()
	aggHex := anchor.blsAggHex
	sigs := anchor.sigs
	anchor.mu.Unlock()

	if aggHex == "" {
		t.Fatalf("expected a non-empty BLS aggregate once quorum reached")
	}
	agg, err := blsagg.SignatureFromHex(aggHex)
	if err != nil {
		t.Fatalf("parse aggregate: %v", err)
	}

	var pubs []*blsagg.PublicKey
	for _, s := range sigs {
		if s.BLSSignatureHex == "" {
			continue
		}
		pubs = append(pubs, blsPubs[s.WitnessAccount])
	}
	roundHash, err := RoundHash(1, 2, blocks)
	if err != nil {
		t.Fatalf("RoundHash: %v", err)
	}
	ok, err := blsagg.VerifyAggregateSignature(pubs, []byte(roundHash), agg)
	if err != nil || !ok {
		t.Fatalf("aggregate signature did not verify: ok=%v err=%v", ok, err)
	}
}

func TestCoordinator_TimeoutRewindsProposedRound(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa"}
	k := mustKey(t)
	witnesses := fakeWitnesses{"w1": &Witness{Account: "w1", SigningKey: k.PublicKey().Hex()}}
	schedule := fakeSchedule{accounts: []string{"w1"}}
	anchor := &fakeAnchor{}
	transport := &loopbackTransportV2{coordsByAccount: map[string]*Coordinator{}}

	cfg := Config{Quorum: 3, TickInterval: time.Millisecond, MaxWaitingPeriods: 2}
	params := &fakeParams{p: Params{Round: 5, LastBlockRound: 1, LastVerifiedBlockNumber: 0, CurrentWitness: "w1"}}
	c := New(cfg, Witness{Account: "w1"}, k, blocks, params, schedule, witnesses, anchor, transport)

	p, _ := params.GetParams()
	c.propose(context.Background(), p)

	c.tick(context.Background())
	c.tick(context.Background())

	c.mu.Lock()
	lastProposed := c.lastProposedRound
	prop := c.proposition
	c.mu.Unlock()

	if prop != nil {
		t.Fatalf("expected proposition to be cleared after timeout")
	}
	if lastProposed != 4 {
		t.Fatalf("expected lastProposedRound rewound to 4, got %d", lastProposed)
	}
}

func TestProposeRoundHandler_RejectsUnscheduled(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa"}
	k := mustKey(t)
	witnesses := fakeWitnesses{"w1": &Witness{Account: "w1", SigningKey: k.PublicKey().Hex()}}
	schedule := fakeSchedule{accounts: []string{"w2"}}
	params := &fakeParams{p: Params{LastBlockRound: 1}}
	c := New(DefaultConfig(), Witness{Account: "self"}, k, blocks, params, schedule, witnesses, &fakeAnchor{}, nil)

	roundHash := make([]byte, 64)
	for i := range roundHash {
		roundHash[i] = 'a'
	}
	sig := make([]byte, 130)
	for i := range sig {
		sig[i] = '0'
	}
	_, err := c.ProposeRoundHandler("w1", true, 1, string(roundHash), string(sig))
	if err != ErrNotScheduled {
		t.Fatalf("expected ErrNotScheduled, got %v", err)
	}
}

func TestProposeRoundHandler_RejectsUnauthenticated(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa"}
	k := mustKey(t)
	witnesses := fakeWitnesses{}
	schedule := fakeSchedule{accounts: []string{"w1"}}
	params := &fakeParams{p: Params{LastBlockRound: 1}}
	c := New(DefaultConfig(), Witness{Account: "self"}, k, blocks, params, schedule, witnesses, &fakeAnchor{}, nil)

	roundHash := make([]byte, 64)
	for i := range roundHash {
		roundHash[i] = 'a'
	}
	sig := make([]byte, 130)
	for i := range sig {
		sig[i] = '0'
	}
	_, err := c.ProposeRoundHandler("w1", false, 1, string(roundHash), string(sig))
	if err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
