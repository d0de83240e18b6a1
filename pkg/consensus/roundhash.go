package consensus

import "github.com/certen/sidechain-node/pkg/canon"

// BlockHashSource is the minimal read access the coordinator needs into the
// Ledger's committed chain: just the hash of a finalized block by number.
type BlockHashSource interface {
	BlockHash(blockNumber uint64) (string, error)
}

// RoundHash computes H_0 = "", H_i = SHA256(H_{i-1} || B_i.hash) over blocks
// [from..to] ascending, returning the final H_n as lowercase hex. Any two
// correct witnesses computing this over the same range get the same answer.
func RoundHash(from, to uint64, source BlockHashSource) (string, error) {
	h := ""
	for n := from; n <= to; n++ {
		blockHash, err := source.BlockHash(n)
		if err != nil {
			return "", err
		}
		h = canon.HashFields(&h, &blockHash)
	}
	return h, nil
}
