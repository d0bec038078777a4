package indexer

import (
	"context"
	"testing"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/pkg/field"
)

func TestIngestAppendsInOrder(t *testing.T) {
	idx, err := NewCommitmentIndex(4, 10)
	if err != nil {
		t.Fatalf("NewCommitmentIndex: %v", err)
	}
	c0, c1 := field.FromUint64(10), field.FromUint64(11)
	if err := idx.Ingest(c0, 0, []byte("out0")); err != nil {
		t.Fatalf("ingest 0: %v", err)
	}
	if err := idx.Ingest(c1, 1, []byte("out1")); err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	if idx.NextIndex() != 2 {
		t.Fatalf("next index = %d, want 2", idx.NextIndex())
	}
	if !idx.HasEncryptedOutput([]byte("out0")) {
		t.Fatal("expected out0 to be known")
	}
	if idx.HasEncryptedOutput([]byte("unknown")) {
		t.Fatal("unexpected membership for unseen blob")
	}
}

func TestIngestIdempotentReplay(t *testing.T) {
	idx, _ := NewCommitmentIndex(4, 10)
	c0 := field.FromUint64(10)
	if err := idx.Ingest(c0, 0, []byte("out0")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := idx.Ingest(c0, 0, []byte("out0")); err != nil {
		t.Fatalf("replay ingest should be a no-op, got: %v", err)
	}
	if idx.NextIndex() != 1 {
		t.Fatalf("next index = %d, want 1 after idempotent replay", idx.NextIndex())
	}
}

func TestIngestRejectsFutureIndex(t *testing.T) {
	idx, _ := NewCommitmentIndex(4, 10)
	if err := idx.Ingest(field.FromUint64(1), 5, []byte("x")); err != ErrFutureIndex {
		t.Fatalf("expected ErrFutureIndex, got %v", err)
	}
}

func TestProofByCommitmentUnknown(t *testing.T) {
	idx, _ := NewCommitmentIndex(4, 10)
	if _, ok := idx.ProofByCommitment(field.FromUint64(99)); ok {
		t.Fatal("expected ok=false for unknown commitment")
	}
}

func TestProofByIndexOutOfRangeReturnsZeroPath(t *testing.T) {
	idx, _ := NewCommitmentIndex(4, 10)
	p := idx.ProofByIndex(50)
	for _, e := range p.PathElements {
		if !e.IsZero() {
			t.Fatal("expected all-zero path for out-of-range index")
		}
	}
}

func TestEncryptedOutputsPagination(t *testing.T) {
	idx, _ := NewCommitmentIndex(8, 10)
	for i := uint64(0); i < 5; i++ {
		if err := idx.Ingest(field.FromUint64(100+i), i, []byte{byte(i)}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	items, total, hasMore := idx.EncryptedOutputs(1, 3)
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if !hasMore {
		t.Fatal("expected hasMore = true")
	}
	if len(items) != 2 || items[0][0] != 1 || items[1][0] != 2 {
		t.Fatalf("unexpected page contents: %v", items)
	}

	_, _, hasMore = idx.EncryptedOutputs(0, 5)
	if hasMore {
		t.Fatal("expected hasMore = false at the exact end")
	}
}

// fakeMarkerSource implements MarkerSource for reconciliation tests.
type fakeMarkerSource struct {
	markers []*accounts.CommitmentMarker
}

func (f *fakeMarkerSource) MarkersFrom(_ context.Context, from uint64) ([]*accounts.CommitmentMarker, error) {
	var out []*accounts.CommitmentMarker
	for _, m := range f.markers {
		if m.Index >= from {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestReconcileOnceCatchesUpWithoutRebuild(t *testing.T) {
	idx, _ := NewCommitmentIndex(8, 10)
	if err := idx.Ingest(field.FromUint64(1), 0, []byte("a")); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	source := &fakeMarkerSource{markers: []*accounts.CommitmentMarker{
		{Commitment: field.FromUint64(1), Index: 0, EncryptedOutput: []byte("a")},
		{Commitment: field.FromUint64(2), Index: 1, EncryptedOutput: []byte("b")},
		{Commitment: field.FromUint64(3), Index: 2, EncryptedOutput: []byte("c")},
	}}
	loop := NewReconcileLoop(idx, source, 0, nil)
	if err := loop.reconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcileOnce: %v", err)
	}
	if idx.NextIndex() != 3 {
		t.Fatalf("next index = %d, want 3", idx.NextIndex())
	}
}
