package consensus

import "github.com/certen/sidechain-node/pkg/crypto/signing"

// ProposeRoundHandler is the verifier side of the protocol: a peer P
// proposes round R with hash H and signature S over an (assumed)
// authenticated socket. Returns the ack frame to send back, or an error
// when the message should be dropped silently instead of acknowledged.
func (c *Coordinator) ProposeRoundHandler(peerAccount string, authenticated bool, round uint64, roundHash, signatureHex string) (*ProposalAck, error) {
	if len(roundHash) != 64 || len(signatureHex) != 130 {
		return &ProposalAck{Error: ErrInvalidSignature.Error()}, nil
	}
	if !authenticated {
		return nil, ErrNotAuthenticated
	}

	scheduled, err := c.schedule.GetSchedule(round)
	if err != nil {
		return nil, err
	}
	if !contains(scheduled, peerAccount) {
		return nil, ErrNotScheduled
	}

	w, err := c.witnesses.GetWitness(peerAccount)
	if err != nil {
		return nil, err
	}
	pub, err := signing.PublicKeyFromHex(w.SigningKey)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	ok, err := pub.Verify([]byte(roundHash), signatureHex)
	if err != nil || !ok {
		return nil, ErrInvalidSignature
	}

	p, err := c.params.GetParams()
	if err != nil {
		return nil, err
	}
	from := p.LastVerifiedBlockNumber + 1
	to := p.LastBlockRound
	localHash, err := RoundHash(from, to, c.blocks)
	if err != nil {
		return nil, err
	}

	if localHash != roundHash {
		return &ProposalAck{Error: ErrConsensusMismatch.Error()}, nil
	}

	sigHex, err := c.privateKey.Sign([]byte(localHash))
	if err != nil {
		return nil, err
	}
	c.bumpLastVerifiedRound(round)

	ack := &ProposalAck{Round: round, RoundHash: localHash, SignatureHex: sigHex}
	if c.blsKey != nil {
		ack.BLSSignatureHex = c.blsKey.Sign([]byte(localHash)).Hex()
	}
	return ack, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
