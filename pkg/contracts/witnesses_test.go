package contracts

import (
	"strings"
	"testing"

	"github.com/certen/sidechain-node/pkg/execution"
	"github.com/certen/sidechain-node/pkg/kvstore"
	"github.com/certen/sidechain-node/pkg/ledger"
)

func strPtr(s string) *string { return &s }

func newTestChain() (*ledger.Store, *ledger.Ledger) {
	reg := execution.NewRegistry()
	reg.Register(WitnessesCode, WitnessesFactory)
	reg.Register(TokenCode, TokenFactory)
	exec := execution.New(reg, 0, nil)
	store := ledger.NewStore(kvstore.NewMemoryKV())
	chain := ledger.New(store, exec, "test-chain")
	return store, chain
}

func mustProduce(t *testing.T, chain *ledger.Ledger) {
	t.Helper()
	if _, err := chain.ProduceBlock("2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("produce block: %v", err)
	}
}

func TestWitnessesContract_RegisterAndQuery(t *testing.T) {
	store, chain := newTestChain()
	if _, err := chain.Genesis("2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	deployPayload := `{"code":"` + WitnessesCode + `","params":{}}`
	chain.Submit(ledger.NewTransaction(0, "d1", "bootstrap", strPtr(WitnessesContract), strPtr("createSSC"), strPtr(deployPayload)))
	mustProduce(t, chain)

	registerPayload := `{"account":"w1","signingKey":"abc123","ip":"10.0.0.1"}`
	chain.Submit(ledger.NewTransaction(0, "r1", "w1", strPtr(WitnessesContract), strPtr("register"), strPtr(registerPayload)))
	mustProduce(t, chain)

	source := NewLedgerSource(store)
	w, err := source.GetWitness("w1")
	if err != nil {
		t.Fatalf("GetWitness: %v", err)
	}
	if w.SigningKey != "abc123" || w.IP != "10.0.0.1" {
		t.Fatalf("unexpected witness: %+v", w)
	}

	if _, err := source.GetWitness("nobody"); err != ledger.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unregistered witness, got %v", err)
	}
}

func TestWitnessesContract_ScheduleAndParams(t *testing.T) {
	store, chain := newTestChain()
	if _, err := chain.Genesis("2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	deployPayload := `{"code":"` + WitnessesCode + `","params":{}}`
	chain.Submit(ledger.NewTransaction(0, "d1", "bootstrap", strPtr(WitnessesContract), strPtr("createSSC"), strPtr(deployPayload)))
	mustProduce(t, chain)

	schedulePayload := `{"round":5,"accounts":["w1","w2","w3"]}`
	chain.Submit(ledger.NewTransaction(0, "s1", "bootstrap", strPtr(WitnessesContract), strPtr("setSchedule"), strPtr(schedulePayload)))
	mustProduce(t, chain)

	source := NewLedgerSource(store)
	accounts, err := source.GetSchedule(5)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 scheduled witnesses, got %d: %v", len(accounts), accounts)
	}

	advancePayload := `{"lastBlockRound":10,"nextWitness":"w2"}`
	chain.Submit(ledger.NewTransaction(0, "a1", "bootstrap", strPtr(WitnessesContract), strPtr("advanceRound"), strPtr(advancePayload)))
	mustProduce(t, chain)

	params, err := source.GetParams()
	if err != nil {
		t.Fatalf("GetParams: %v", err)
	}
	if params.Round != 1 || params.LastBlockRound != 10 || params.CurrentWitness != "w2" {
		t.Fatalf("unexpected params after advance: %+v", params)
	}
}

func TestTokenContract_MintTransfer(t *testing.T) {
	_, chain := newTestChain()
	if _, err := chain.Genesis("2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	deployPayload := `{"code":"` + TokenCode + `","params":{}}`
	chain.Submit(ledger.NewTransaction(0, "d1", "bootstrap", strPtr("token"), strPtr("createSSC"), strPtr(deployPayload)))
	mustProduce(t, chain)

	mintPayload := `{"to":"alice","amount":"100"}`
	chain.Submit(ledger.NewTransaction(0, "m1", "alice", strPtr("token"), strPtr("mint"), strPtr(mintPayload)))
	mustProduce(t, chain)

	transferPayload := `{"to":"bob","amount":"40"}`
	chain.Submit(ledger.NewTransaction(0, "t1", "alice", strPtr("token"), strPtr("transfer"), strPtr(transferPayload)))
	block := mustProduceAndReturn(t, chain)

	if strings.Contains(block.Transactions[0].Logs, "errors") {
		t.Fatalf("unexpected transfer errors: %s", block.Transactions[0].Logs)
	}
}

func mustProduceAndReturn(t *testing.T, chain *ledger.Ledger) *ledger.Block {
	t.Helper()
	block, err := chain.ProduceBlock("2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("produce block: %v", err)
	}
	return block
}
