package ledger

import (
	"testing"

	"github.com/certen/sidechain-node/pkg/kvstore"
)

func newTestLedger() *Ledger {
	store := NewStore(kvstore.NewMemoryKV())
	l := New(store, nil, "test-chain")
	if _, err := l.Genesis("2026-01-01T00:00:00Z"); err != nil {
		panic(err)
	}
	return l
}

func TestGenesisBlock(t *testing.T) {
	l := newTestLedger()
	b, err := l.GetBlock(0)
	if err != nil {
		t.Fatalf("get genesis: %v", err)
	}
	if b.BlockNumber != 0 || b.PreviousHash != "0" {
		t.Fatalf("unexpected genesis block: %+v", b)
	}
	if len(b.Transactions) != 1 {
		t.Fatalf("expected 1 synthetic transaction, got %d", len(b.Transactions))
	}
}

func TestProduceBlock_EmptyPending(t *testing.T) {
	l := newTestLedger()
	b, err := l.ProduceBlock("2026-01-01T00:00:03Z")
	if err != nil {
		t.Fatalf("produce block: %v", err)
	}
	if b.BlockNumber != 1 {
		t.Fatalf("expected block 1, got %d", b.BlockNumber)
	}
	if b.MerkleRoot != "" {
		t.Fatalf("expected empty merkle root for empty block, got %q", b.MerkleRoot)
	}
}

func TestProduceBlock_WithTransactions(t *testing.T) {
	l := newTestLedger()
	contract := "tok"
	action := "mint"
	payload := `{"amount":"5"}`
	tx := NewTransaction(1, "t1", "alice", &contract, &action, &payload)
	l.Submit(tx)

	b, err := l.ProduceBlock("2026-01-01T00:00:03Z")
	if err != nil {
		t.Fatalf("produce block: %v", err)
	}
	if len(b.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(b.Transactions))
	}
	if b.Transactions[0].Logs == "" {
		t.Fatalf("expected logs to be populated after execution")
	}
}

func TestIsChainValid(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 3; i++ {
		if _, err := l.ProduceBlock("2026-01-01T00:00:0" + string(rune('1'+i)) + "Z"); err != nil {
			t.Fatalf("produce block %d: %v", i, err)
		}
	}
	valid, err := l.IsChainValid()
	if err != nil {
		t.Fatalf("is chain valid: %v", err)
	}
	if !valid {
		t.Fatalf("expected chain to be valid")
	}
}

func TestReplay_Deterministic(t *testing.T) {
	source := newTestLedger()
	for i := 0; i < 3; i++ {
		if _, err := source.ProduceBlock("2026-01-01T00:00:0" + string(rune('1'+i)) + "Z"); err != nil {
			t.Fatalf("produce block %d: %v", i, err)
		}
	}

	target := New(NewStore(kvstore.NewMemoryKV()), nil, "test-chain")
	if err := target.Replay(source.store, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}

	for n := uint64(0); n <= 3; n++ {
		want, err := source.GetBlock(n)
		if err != nil {
			t.Fatalf("source block %d: %v", n, err)
		}
		got, err := target.GetBlock(n)
		if err != nil {
			t.Fatalf("target block %d: %v", n, err)
		}
		if want.Hash != got.Hash {
			t.Fatalf("block %d hash mismatch: %s vs %s", n, want.Hash, got.Hash)
		}
	}
}
