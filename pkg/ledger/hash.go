package ledger

import "github.com/certen/sidechain-node/pkg/canon"

// canonicalTransactions renders txs as the canonical JSON array that feeds
// the block hash.
func canonicalTransactions(txs []Transaction) (string, error) {
	raw, err := canon.Marshal(txs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// blockHash computes SHA256(previousHash || timestamp || canonical_json(transactions)).
func blockHash(previousHash, timestamp, canonicalTxJSON string) string {
	return canon.HashFields(&previousHash, &timestamp, &canonicalTxJSON)
}
