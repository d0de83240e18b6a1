package consensus

import "testing"

type fakeBlockHashes map[uint64]string

func (f fakeBlockHashes) BlockHash(n uint64) (string, error) { return f[n], nil }

func TestRoundHash_Deterministic(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa", 2: "bb", 3: "cc"}
	h1, err := RoundHash(1, 3, blocks)
	if err != nil {
		t.Fatalf("RoundHash: %v", err)
	}
	h2, err := RoundHash(1, 3, blocks)
	if err != nil {
		t.Fatalf("RoundHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("round hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex hash, got %d chars", len(h1))
	}
}

func TestRoundHash_RangeSensitive(t *testing.T) {
	blocks := fakeBlockHashes{1: "aa", 2: "bb", 3: "cc"}
	h12, _ := RoundHash(1, 2, blocks)
	h13, _ := RoundHash(1, 3, blocks)
	if h12 == h13 {
		t.Fatalf("round hash should differ across different ranges")
	}
}
