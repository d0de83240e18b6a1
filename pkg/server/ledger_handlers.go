// Copyright 2025 Certen Protocol
//
// Ledger query API handlers: block lookups and contract table queries, the
// node's read-only RPC surface.
package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/certen/sidechain-node/pkg/ledger"
	"github.com/certen/sidechain-node/pkg/merkle"
)

// LedgerHandlers serves the block and table query RPCs.
type LedgerHandlers struct {
	ledger  *ledger.Ledger
	store   *ledger.Store
	chainID string
}

// NewLedgerHandlers creates new ledger query handlers.
func NewLedgerHandlers(l *ledger.Ledger, store *ledger.Store, chainID string) *LedgerHandlers {
	return &LedgerHandlers{ledger: l, store: store, chainID: chainID}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleGetBlockInfo handles GET /getBlockInfo?blockNumber=N.
func (h *LedgerHandlers) HandleGetBlockInfo(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("blockNumber")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid blockNumber parameter")
		return
	}

	block, err := h.ledger.GetBlock(n)
	if err == ledger.ErrNotFound {
		writeError(w, http.StatusNotFound, "block not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleGetLatestBlockInfo handles GET /getLatestBlockInfo.
func (h *LedgerHandlers) HandleGetLatestBlockInfo(w http.ResponseWriter, r *http.Request) {
	block, err := h.ledger.GetLatestBlock()
	if err == ledger.ErrNotFound {
		writeError(w, http.StatusNotFound, "chain is empty")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// HandleGetInclusionProof handles GET /getInclusionProof?blockNumber=N&txHash=H,
// letting an external client verify a transaction's membership in a block
// without trusting this node's own merkleRoot computation: it rebuilds the
// block's Merkle tree from its transaction hashes and returns the inclusion
// proof for txHash, verifiable offline against the block's merkleRoot via
// merkle.VerifyProofHex.
func (h *LedgerHandlers) HandleGetInclusionProof(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("blockNumber")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid blockNumber parameter")
		return
	}
	txHashHex := r.URL.Query().Get("txHash")
	txHash, err := hex.DecodeString(txHashHex)
	if err != nil || len(txHash) != 32 {
		writeError(w, http.StatusBadRequest, "invalid txHash parameter")
		return
	}

	block, err := h.ledger.GetBlock(n)
	if err == ledger.ErrNotFound {
		writeError(w, http.StatusNotFound, "block not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(block.Transactions) == 0 {
		writeError(w, http.StatusNotFound, "block has no transactions")
		return
	}

	leaves := make([][]byte, len(block.Transactions))
	for i, tx := range block.Transactions {
		leaf, err := hex.DecodeString(tx.Hash)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stored transaction hash is not valid hex")
			return
		}
		leaves[i] = leaf
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	proof, err := tree.GenerateProofByHash(txHash)
	if err == merkle.ErrLeafNotFound {
		writeError(w, http.StatusNotFound, "transaction not found in block")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

// HandleGetContract handles GET /getContract?name=X.
func (h *LedgerHandlers) HandleGetContract(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if !ledger.ValidTableName(name) {
		writeError(w, http.StatusBadRequest, "invalid contract name")
		return
	}

	rec, err := h.store.GetContract(name)
	if err == ledger.ErrNotFound {
		writeError(w, http.StatusNotFound, "contract doesn't exist")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleFindInTable handles GET /findInTable?contract=X&table=Y&query={...},
// returning every row whose fields match every key in query.
func (h *LedgerHandlers) HandleFindInTable(w http.ResponseWriter, r *http.Request) {
	contract, table, query, ok := h.parseTableQuery(w, r)
	if !ok {
		return
	}

	rows, err := h.store.FindInTable(contract, table, matchQuery(query))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rawDocs(rows))
}

// HandleFindOneInTable handles GET /findOneInTable?contract=X&table=Y&query={...}.
func (h *LedgerHandlers) HandleFindOneInTable(w http.ResponseWriter, r *http.Request) {
	contract, table, query, ok := h.parseTableQuery(w, r)
	if !ok {
		return
	}

	row, err := h.store.FindOneInTable(contract, table, matchQuery(query))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if row == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, rawDoc(row))
}

func (h *LedgerHandlers) parseTableQuery(w http.ResponseWriter, r *http.Request) (contract, table string, query map[string]interface{}, ok bool) {
	contract = r.URL.Query().Get("contract")
	table = r.URL.Query().Get("table")
	if !ledger.ValidTableName(contract) || !ledger.ValidTableName(table) {
		writeError(w, http.StatusBadRequest, "invalid contract or table name")
		return "", "", nil, false
	}

	query = map[string]interface{}{}
	if raw := r.URL.Query().Get("query"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &query); err != nil {
			writeError(w, http.StatusBadRequest, "invalid query JSON")
			return "", "", nil, false
		}
	}
	return contract, table, query, true
}

// matchQuery builds a row predicate requiring every key in query to be
// present in the row's document with an equal JSON value, mirroring the
// document store's exact-match find semantics.
func matchQuery(query map[string]interface{}) func(doc []byte) bool {
	if len(query) == 0 {
		return func([]byte) bool { return true }
	}
	return func(doc []byte) bool {
		var row map[string]interface{}
		if err := json.Unmarshal(doc, &row); err != nil {
			return false
		}
		for k, want := range query {
			got, present := row[k]
			if !present {
				return false
			}
			wantJSON, _ := json.Marshal(want)
			gotJSON, _ := json.Marshal(got)
			if string(wantJSON) != string(gotJSON) {
				return false
			}
		}
		return true
	}
}

func rawDoc(doc []byte) json.RawMessage { return json.RawMessage(doc) }

func rawDocs(docs [][]byte) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}
