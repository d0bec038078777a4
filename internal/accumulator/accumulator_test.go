package accumulator

import (
	"testing"

	"github.com/ccoin/shieldpool/pkg/field"
	"github.com/ccoin/shieldpool/pkg/poseidon"
)

func TestInsertAndRoot(t *testing.T) {
	tree, err := New(nil, 3, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	leaves := []field.Element{
		field.FromUint64(1),
		field.FromUint64(2),
		field.FromUint64(3),
		field.FromUint64(4),
	}

	for _, l := range leaves {
		if _, err := tree.Insert(l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if tree.NextIndex() != 4 {
		t.Fatalf("NextIndex = %d, want 4", tree.NextIndex())
	}
	if tree.Root().IsZero() {
		t.Fatal("root should not be zero after insertions")
	}
}

// TestAccumulatorConsistency checks the core invariant from spec.md §8:
// inserting leaves one by one yields the same root as a fully populated
// tree whose first k leaves are L and the rest are the canonical zero leaf.
func TestAccumulatorConsistency(t *testing.T) {
	const height = 3
	leaves := []field.Element{
		field.FromUint64(11),
		field.FromUint64(22),
		field.FromUint64(33),
	}

	tree, err := New(nil, height, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, l := range leaves {
		if _, err := tree.Insert(l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	full := make([]field.Element, 1<<height)
	copy(full, leaves)
	for i := len(leaves); i < len(full); i++ {
		full[i] = field.Zero()
	}
	wantRoot := computeFullRoot(full)

	if !field.Equal(tree.Root(), wantRoot) {
		t.Fatalf("root mismatch: got %v want %v", tree.Root().EncodeLE(), wantRoot.EncodeLE())
	}
}

func computeFullRoot(level []field.Element) field.Element {
	for len(level) > 1 {
		next := make([]field.Element, len(level)/2)
		for i := range next {
			next[i] = poseidon.Hash2(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func TestRootRingLiveness(t *testing.T) {
	tree, err := New(nil, 4, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var firstRoot field.Element
	for i := 0; i < 2; i++ {
		if _, err := tree.Insert(field.FromUint64(uint64(i + 1))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	firstRoot = tree.Root()
	if !tree.KnownRoot(firstRoot) {
		t.Fatal("current root should be known immediately after insertion")
	}

	// Age it out: ring capacity is 3, so 3 more insertions evict it.
	for i := 0; i < 3; i++ {
		if _, err := tree.Insert(field.FromUint64(uint64(i + 100))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if tree.KnownRoot(firstRoot) {
		t.Fatal("root should have aged out of the ring")
	}
}

func TestTreeFull(t *testing.T) {
	tree, err := New(nil, 1, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tree.Insert(field.FromUint64(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tree.Insert(field.FromUint64(2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tree.Insert(field.FromUint64(3)); err != ErrTreeFull {
		t.Fatalf("expected ErrTreeFull, got %v", err)
	}
}

func TestProofVerification(t *testing.T) {
	tree, err := New(nil, 3, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	leaves := []field.Element{
		field.FromUint64(5),
		field.FromUint64(6),
		field.FromUint64(7),
	}
	for _, l := range leaves {
		if _, err := tree.Insert(l); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	proof, err := tree.Proof(leaves, 1)
	if err != nil {
		t.Fatalf("Proof: %v", err)
	}
	if !VerifyProof(leaves[1], proof, tree.Root()) {
		t.Fatal("valid proof should verify")
	}
	if VerifyProof(field.FromUint64(999), proof, tree.Root()) {
		t.Fatal("proof for wrong leaf should not verify")
	}

	if _, err := tree.Proof(leaves, 5); err != ErrInvalidPosition {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}
