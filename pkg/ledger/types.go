package ledger

import (
	"strconv"

	"github.com/certen/sidechain-node/pkg/canon"
)

// Transaction is immutable once created. Hash is computed at construction
// time over the lexical concatenation of the fields below; Logs is populated
// exactly once, after execution, and is never part of the hash.
type Transaction struct {
	RefAnchorBlockNumber uint64  `json:"refAnchorBlockNumber"`
	TransactionID        string  `json:"transactionId"`
	Sender               string  `json:"sender"`
	Contract             *string `json:"contract"`
	Action               *string `json:"action"`
	Payload              *string `json:"payload"`
	Hash                 string  `json:"hash"`
	Logs                 string  `json:"logs"`
}

// NewTransaction builds a Transaction and computes its hash. logs is left
// empty until the executor runs it.
func NewTransaction(refAnchorBlockNumber uint64, transactionID, sender string, contract, action, payload *string) *Transaction {
	tx := &Transaction{
		RefAnchorBlockNumber: refAnchorBlockNumber,
		TransactionID:        transactionID,
		Sender:               sender,
		Contract:             contract,
		Action:               action,
		Payload:              payload,
	}
	tx.Hash = tx.computeHash()
	return tx
}

func (t *Transaction) computeHash() string {
	ref := strconv.FormatUint(t.RefAnchorBlockNumber, 10)
	return canon.HashFields(&ref, &t.TransactionID, &t.Sender, t.Contract, t.Action, t.Payload)
}

// Block is the unit of the append-only chain. Hash and MerkleRoot are
// computed AFTER every transaction in Transactions has been executed and had
// its Logs attached.
type Block struct {
	BlockNumber          uint64        `json:"blockNumber"`
	RefAnchorBlockNumber uint64        `json:"refAnchorBlockNumber"`
	PreviousHash         string        `json:"previousHash"`
	Timestamp            string        `json:"timestamp"`
	Transactions         []Transaction `json:"transactions"`
	Hash                 string        `json:"hash"`
	MerkleRoot           string        `json:"merkleRoot"`
}

// ContractRecord is write-once: redeployment of the same Name is rejected by
// the store layer.
type ContractRecord struct {
	Name   string   `json:"name"`
	Owner  string   `json:"owner"`
	Code   string   `json:"code"`
	Tables []string `json:"tables"`
}

// GenesisTransaction is the single synthetic transaction carried by block 0.
// It records no hash in the usual sense and is never executed.
type GenesisPayload struct {
	ChainID string `json:"chainId"`
}
