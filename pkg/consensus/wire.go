// Copyright 2025 Certen Protocol
package consensus

import (
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/certen/sidechain-node/pkg/crypto/signing"
)

// authTokenAlphabet is used to generate the 32-char random handshake
// challenge; it need not be cryptographically structured, only unguessable,
// so the token itself is drawn from crypto/rand.
const authTokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAuthToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, 32)
	for i, v := range b {
		out[i] = authTokenAlphabet[int(v)%len(authTokenAlphabet)]
	}
	return string(out), nil
}

// handshakeFrame is the wire shape of a handshake request or ack.
type handshakeFrame struct {
	AuthToken string `json:"authToken"`
	Signature string `json:"signature"`
	Account   string `json:"account"`
}

// proposeRoundFrame is the wire shape of a proposeRound request.
type proposeRoundFrame struct {
	Round     uint64 `json:"round"`
	RoundHash string `json:"roundHash"`
	Signature string `json:"signature"`
}

// envelope multiplexes the single JSON-frame wire protocol: exactly one of
// Handshake/Propose/Ack is populated per message.
type envelope struct {
	Kind      string             `json:"kind"`
	Handshake *handshakeFrame    `json:"handshake,omitempty"`
	Propose   *proposeRoundFrame `json:"proposeRound,omitempty"`
	Ack       *ProposalAck       `json:"ack,omitempty"`
}

// socket is one peer connection. A socket becomes authenticated only after
// both directions complete the handshake challenge/response.
type socket struct {
	conn    *websocket.Conn
	account string
	ip      string

	writeMu sync.Mutex

	mu               sync.Mutex
	outboundAuthed   bool // we verified the peer's signature over our challenge
	inboundAuthed    bool // the peer verified our signature over their challenge
	issuedToken      string
	pendingAckCh     chan envelope
}

func (s *socket) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outboundAuthed && s.inboundAuthed
}

func (s *socket) send(e envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(e)
}

// PeerManager owns the sockets map and implements Transport. It is the
// Coordinator's only channel to other witnesses; the sockets map is never
// shared with anything else, breaking the reference's cyclic
// sockets<->witness-record references by storing peer account keys instead
// of pointers.
type PeerManager struct {
	self      Witness
	key       *signing.PrivateKey
	witnesses WitnessRegistry
	coord     *Coordinator
	dialer    *websocket.Dialer
	logger    *log.Logger

	mu      sync.Mutex
	sockets map[string]*socket
}

// NewPeerManager creates a PeerManager for self, able to both dial peers
// (as Transport) and serve inbound connections (via ServeConn).
func NewPeerManager(self Witness, key *signing.PrivateKey, witnesses WitnessRegistry) *PeerManager {
	return &PeerManager{
		self:      self,
		key:       key,
		witnesses: witnesses,
		dialer:    websocket.DefaultDialer,
		logger:    log.New(log.Writer(), "[PeerManager] ", log.LstdFlags),
		sockets:   make(map[string]*socket),
	}
}

// ConnectedWitnesses reports how many cached sockets are fully
// authenticated in both directions, for health reporting.
func (pm *PeerManager) ConnectedWitnesses() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := 0
	for _, s := range pm.sockets {
		if s.authenticated() {
			n++
		}
	}
	return n
}

// BindCoordinator wires the coordinator this PeerManager serves
// proposeRound requests into. Done as a setter rather than a constructor
// argument because the Coordinator itself takes a Transport at construction
// time, creating a natural two-step wiring order in main.go.
func (pm *PeerManager) BindCoordinator(c *Coordinator) { pm.coord = c }

// ProposeRound implements Transport: dial (or reuse) a socket to target,
// send a proposeRound frame, and invoke onAck with the reply read back on
// the same socket.
func (pm *PeerManager) ProposeRound(target Witness, round uint64, roundHash, signatureHex string, onAck func(ack *ProposalAck, err error)) {
	go func() {
		sock, err := pm.connect(target)
		if err != nil {
			onAck(nil, fmt.Errorf("%w: %s", ErrTransport, err))
			return
		}
		if err := sock.send(envelope{Kind: "proposeRound", Propose: &proposeRoundFrame{Round: round, RoundHash: roundHash, Signature: signatureHex}}); err != nil {
			onAck(nil, fmt.Errorf("%w: %s", ErrTransport, err))
			return
		}

		select {
		case reply := <-sock.pendingAckCh:
			onAck(reply.Ack, nil)
		case <-time.After(10 * time.Second):
			onAck(nil, fmt.Errorf("%w: proposeRound ack timeout", ErrTransport))
		}
	}()
}

// connect returns an authenticated socket to target, dialing and completing
// the handshake if none is cached yet.
func (pm *PeerManager) connect(target Witness) (*socket, error) {
	pm.mu.Lock()
	if s, ok := pm.sockets[target.Account]; ok && s.authenticated() {
		pm.mu.Unlock()
		return s, nil
	}
	pm.mu.Unlock()

	url := fmt.Sprintf("ws://%s", target.IP)
	conn, _, err := pm.dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	s := &socket{conn: conn, account: target.Account, ip: target.IP, pendingAckCh: make(chan envelope, 1)}
	go pm.readLoop(s)

	if err := pm.handshakeOutbound(s, target); err != nil {
		conn.Close()
		return nil, err
	}

	pm.mu.Lock()
	pm.sockets[target.Account] = s
	pm.mu.Unlock()
	return s, nil
}

// handshakeOutbound performs our side of the connect handshake: send our
// challenge+signature+account, wait for the peer's handshake ack, verify it
// under the peer's registered signingKey, and (if the peer also issued us a
// fresh token) sign and return it.
func (pm *PeerManager) handshakeOutbound(s *socket, target Witness) error {
	token, err := randomAuthToken()
	if err != nil {
		return err
	}
	sig, err := pm.key.Sign([]byte(fmt.Sprintf(`{"authToken":%q}`, token)))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.issuedToken = token
	s.mu.Unlock()

	if err := s.send(envelope{Kind: "handshake", Handshake: &handshakeFrame{AuthToken: token, Signature: sig, Account: pm.self.Account}}); err != nil {
		return err
	}

	select {
	case reply := <-s.pendingAckCh:
		if reply.Kind != "handshake" || reply.Handshake == nil {
			return ErrInvalidSignature
		}
		return pm.verifyPeerHandshake(s, target, reply.Handshake)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("%w: handshake timeout", ErrTransport)
	}
}

// verifyPeerHandshake checks the peer's countersignature (over our
// challenge) and, if the peer issued us a fresh token in the same message,
// answers it — completing both directions in one round trip for the
// initiating side.
func (pm *PeerManager) verifyPeerHandshake(s *socket, target Witness, frame *handshakeFrame) error {
	if !ipMatches(s.ip, target.IP) {
		return ErrInvalidSignature
	}
	w, err := pm.witnesses.GetWitness(target.Account)
	if err != nil {
		return err
	}
	pub, err := signing.PublicKeyFromHex(w.SigningKey)
	if err != nil {
		return ErrInvalidSignature
	}
	s.mu.Lock()
	expected := s.issuedToken
	s.mu.Unlock()
	ok, err := pub.Verify([]byte(fmt.Sprintf(`{"authToken":%q}`, expected)), frame.Signature)
	if err != nil || !ok {
		return ErrInvalidSignature
	}

	s.mu.Lock()
	s.outboundAuthed = true
	s.mu.Unlock()

	if frame.AuthToken != "" {
		counterSig, err := pm.key.Sign([]byte(fmt.Sprintf(`{"authToken":%q}`, frame.AuthToken)))
		if err != nil {
			return err
		}
		if err := s.send(envelope{Kind: "handshake", Handshake: &handshakeFrame{AuthToken: frame.AuthToken, Signature: counterSig, Account: pm.self.Account}}); err != nil {
			return err
		}
		s.mu.Lock()
		s.inboundAuthed = true
		s.mu.Unlock()
	}
	return nil
}

// ServeConn handles one inbound connection: accepts a handshake, replies,
// then dispatches proposeRound requests into the bound Coordinator.
func (pm *PeerManager) ServeConn(conn *websocket.Conn, remoteIP string) {
	s := &socket{conn: conn, ip: remoteIP, pendingAckCh: make(chan envelope, 1)}
	for {
		var e envelope
		if err := conn.ReadJSON(&e); err != nil {
			return
		}
		switch e.Kind {
		case "handshake":
			pm.handleInboundHandshake(s, e.Handshake)
		case "proposeRound":
			pm.handleInboundPropose(s, e.Propose)
		default:
			select {
			case s.pendingAckCh <- e:
			default:
			}
		}
	}
}

// handleInboundHandshake is the responder side of the handshake, invoked
// once per handshake frame received on this socket. The first frame carries
// the peer's own fresh challenge (verified under their registered key,
// setting inboundAuthed and eliciting a reply that countersigns it plus
// issues our own fresh challenge); a second frame, once we've issued a
// challenge of our own, carries the peer's countersignature over that
// challenge (verified against our issuedToken, setting outboundAuthed) and
// needs no further reply.
func (pm *PeerManager) handleInboundHandshake(s *socket, frame *handshakeFrame) {
	if frame == nil {
		return
	}
	w, err := pm.witnesses.GetWitness(frame.Account)
	if err != nil {
		return
	}
	if !ipMatches(s.ip, w.IP) {
		return
	}
	pub, err := signing.PublicKeyFromHex(w.SigningKey)
	if err != nil {
		return
	}
	ok, err := pub.Verify([]byte(fmt.Sprintf(`{"authToken":%q}`, frame.AuthToken)), frame.Signature)
	if err != nil || !ok {
		return
	}

	s.mu.Lock()
	s.account = frame.Account
	ourToken := s.issuedToken
	alreadyChallenged := ourToken != ""
	countersignsOurChallenge := alreadyChallenged && frame.AuthToken == ourToken
	if countersignsOurChallenge {
		s.outboundAuthed = true
	} else {
		s.inboundAuthed = true
	}
	s.mu.Unlock()

	if alreadyChallenged {
		// Either we just verified the peer's countersignature over our own
		// challenge (nothing further to send), or the peer somehow
		// re-presented a challenge after we'd already issued ours — in
		// either case our side of the handshake is settled.
		return
	}

	// First frame from this peer: countersign its challenge and issue our
	// own, distinct, fresh challenge in the same reply.
	token, err := randomAuthToken()
	if err != nil {
		return
	}
	counterSig, err := pm.key.Sign([]byte(fmt.Sprintf(`{"authToken":%q}`, frame.AuthToken)))
	if err != nil {
		return
	}
	s.mu.Lock()
	s.issuedToken = token
	s.mu.Unlock()

	reply := handshakeFrame{Account: pm.self.Account, AuthToken: token, Signature: counterSig}
	pm.mu.Lock()
	pm.sockets[s.account] = s
	pm.mu.Unlock()
	_ = s.send(envelope{Kind: "handshake", Handshake: &reply})
}

func (pm *PeerManager) handleInboundPropose(s *socket, frame *proposeRoundFrame) {
	if frame == nil || pm.coord == nil {
		return
	}
	ack, err := pm.coord.ProposeRoundHandler(s.account, s.authenticated(), frame.Round, frame.RoundHash, frame.Signature)
	if err != nil {
		pm.logger.Printf("proposeRound from %s dropped: %v", s.account, err)
		return
	}
	_ = s.send(envelope{Kind: "proposeRoundAck", Ack: ack})
}

// ipMatches compares two IPs, stripping the IPv6-mapped-IPv4 prefix so a
// dual-stack listener doesn't reject a registered IPv4 address.
func ipMatches(a, b string) bool {
	na := net.ParseIP(strings.TrimPrefix(a, "::ffff:"))
	nb := net.ParseIP(strings.TrimPrefix(b, "::ffff:"))
	if na == nil || nb == nil {
		return a == b
	}
	return na.Equal(nb)
}

func (pm *PeerManager) readLoop(s *socket) {
	for {
		var e envelope
		if err := s.conn.ReadJSON(&e); err != nil {
			return
		}
		select {
		case s.pendingAckCh <- e:
		default:
		}
	}
}
