package consensus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/certen/sidechain-node/pkg/crypto/signing"
)

func TestIpMatches_StripsV4MappedPrefix(t *testing.T) {
	if !ipMatches("::ffff:10.0.0.5", "10.0.0.5") {
		t.Fatalf("expected IPv4-mapped address to match its bare IPv4 form")
	}
	if ipMatches("10.0.0.5", "10.0.0.6") {
		t.Fatalf("different addresses must not match")
	}
}

func TestRandomAuthToken_LengthAndAlphabet(t *testing.T) {
	tok, err := randomAuthToken()
	if err != nil {
		t.Fatalf("randomAuthToken: %v", err)
	}
	if len(tok) != 32 {
		t.Fatalf("expected 32-char token, got %d", len(tok))
	}
	for _, r := range tok {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			t.Fatalf("token contains non-alphanumeric rune %q", r)
		}
	}
}

// fakeRegistry is a minimal in-memory WitnessRegistry for wiring two
// PeerManagers against each other in tests.
type fakeRegistry struct {
	mu        sync.Mutex
	witnesses map[string]*Witness
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{witnesses: map[string]*Witness{}} }

func (r *fakeRegistry) put(w Witness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := w
	r.witnesses[w.Account] = &cp
}

func (r *fakeRegistry) GetWitness(account string) (*Witness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.witnesses[account]
	if !ok {
		return nil, errors.New("fakeRegistry: not found")
	}
	return w, nil
}

type fakeBlockHashSource map[uint64]string

func (f fakeBlockHashSource) BlockHash(n uint64) (string, error) {
	h, ok := f[n]
	if !ok {
		return "", errors.New("fakeBlockHashSource: not found")
	}
	return h, nil
}

type fakeParamsSource struct{ p *Params }

func (f fakeParamsSource) GetParams() (*Params, error) { return f.p, nil }

type fakeScheduleSource map[uint64][]string

func (f fakeScheduleSource) GetSchedule(round uint64) ([]string, error) { return f[round], nil }

// TestHandshakeAndProposeRound_EndToEnd drives two real PeerManagers over an
// actual websocket connection: witness A dials witness B, completes the
// three-message handshake, and submits a proposeRound request that B's
// bound Coordinator verifies and acks. This is the path the fixed
// handleInboundHandshake countersignature/outboundAuthed logic exercises
// end to end, not just its pure helper functions.
func TestHandshakeAndProposeRound_EndToEnd(t *testing.T) {
	keyA, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("generate key A: %v", err)
	}
	keyB, err := signing.GenerateKey()
	if err != nil {
		t.Fatalf("generate key B: %v", err)
	}

	witnessA := Witness{Account: "witness-a", SigningKey: keyA.PublicKey().Hex(), IP: "127.0.0.1"}
	witnessB := Witness{Account: "witness-b", SigningKey: keyB.PublicKey().Hex()}

	registry := newFakeRegistry()
	registry.put(witnessA)
	registry.put(witnessB)

	blocks := fakeBlockHashSource{1: "hash-block-1", 2: "hash-block-2"}
	params := fakeParamsSource{p: &Params{LastVerifiedBlockNumber: 0, LastBlockRound: 2}}
	schedule := fakeScheduleSource{5: {"witness-a", "witness-b"}}

	pmB := NewPeerManager(witnessB, keyB, registry)
	coordB := New(DefaultConfig(), witnessB, keyB, blocks, params, schedule, registry, nil, pmB)
	pmB.BindCoordinator(coordB)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		pmB.ServeConn(conn, "127.0.0.1")
	}))
	defer srv.Close()

	witnessB.IP = strings.TrimPrefix(srv.URL, "http://")
	registry.put(witnessB)

	pmA := NewPeerManager(witnessA, keyA, registry)

	localHash, err := RoundHash(1, 2, blocks)
	if err != nil {
		t.Fatalf("RoundHash: %v", err)
	}
	sigHex, err := keyA.Sign([]byte(localHash))
	if err != nil {
		t.Fatalf("sign round hash: %v", err)
	}

	ackCh := make(chan *ProposalAck, 1)
	errCh := make(chan error, 1)
	pmA.ProposeRound(witnessB, 5, localHash, sigHex, func(ack *ProposalAck, err error) {
		if err != nil {
			errCh <- err
			return
		}
		ackCh <- ack
	})

	select {
	case err := <-errCh:
		t.Fatalf("proposeRound failed: %v", err)
	case ack := <-ackCh:
		if ack.Error != "" {
			t.Fatalf("ack carried error: %s", ack.Error)
		}
		if ack.RoundHash != localHash {
			t.Fatalf("ack roundHash mismatch: got %s want %s", ack.RoundHash, localHash)
		}
		pubB, err := signing.PublicKeyFromHex(witnessB.SigningKey)
		if err != nil {
			t.Fatalf("parse witness-b public key: %v", err)
		}
		ok, err := pubB.Verify([]byte(ack.RoundHash), ack.SignatureHex)
		if err != nil || !ok {
			t.Fatalf("ack signature invalid: ok=%v err=%v", ok, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for proposeRound ack")
	}

	pmA.mu.Lock()
	sock, ok := pmA.sockets[witnessB.Account]
	pmA.mu.Unlock()
	if !ok || !sock.authenticated() {
		t.Fatalf("expected socket to witness-b to be fully authenticated after the handshake")
	}
}
