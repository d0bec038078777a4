package accounts

import (
	"context"
	"testing"

	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

var program = address.Address{0xaa, 0xbb}

func TestDeriveDeterministic(t *testing.T) {
	a1 := TreeAddress(program)
	a2 := TreeAddress(program)
	if a1 != a2 {
		t.Fatal("deriving the same seed twice must yield the same address")
	}
	if a1 == TreeVaultAddress(program) {
		t.Fatal("different seeds must derive different addresses")
	}
}

func TestCommitmentMarkerAddressBindsSlotAndCommitment(t *testing.T) {
	c := field.FromUint64(42)
	a0 := CommitmentMarkerAddress(program, 0, c)
	a1 := CommitmentMarkerAddress(program, 1, c)
	if a0 == a1 {
		t.Fatal("the two commitment slots must derive distinct addresses for the same commitment")
	}
	if a0 != CommitmentMarkerAddress(program, 0, c) {
		t.Fatal("derivation must be deterministic")
	}
	if a0 == CommitmentMarkerAddress(program, 0, field.FromUint64(43)) {
		t.Fatal("different commitments must derive different addresses")
	}
}

func TestTreeAccountRoundTrip(t *testing.T) {
	const h, n = 3, 4
	want := &TreeAccount{
		Authority:  address.Address{1, 2, 3},
		NextIndex:  7,
		Subtrees:   make([]field.Element, h),
		Root:       field.FromUint64(99),
		RootRing:   make([]field.Element, n),
		RootIndex:  2,
		DepositCap: 1000,
		Bump:       0xff,
	}
	for i := range want.Subtrees {
		want.Subtrees[i] = field.FromUint64(uint64(i + 1))
	}
	for i := range want.RootRing {
		want.RootRing[i] = field.FromUint64(uint64(i + 100))
	}

	buf := want.Encode()
	got, err := DecodeTreeAccount(buf, h, n)
	if err != nil {
		t.Fatalf("DecodeTreeAccount: %v", err)
	}
	if got.Authority != want.Authority || got.NextIndex != want.NextIndex ||
		got.RootIndex != want.RootIndex || got.DepositCap != want.DepositCap || got.Bump != want.Bump {
		t.Fatal("scalar fields did not round-trip")
	}
	if !field.Equal(got.Root, want.Root) {
		t.Fatal("root did not round-trip")
	}
	for i := range want.Subtrees {
		if !field.Equal(got.Subtrees[i], want.Subtrees[i]) {
			t.Fatalf("subtree %d did not round-trip", i)
		}
	}
}

func TestCommitmentMarkerRoundTrip(t *testing.T) {
	want := &CommitmentMarker{
		Commitment:      field.FromUint64(555),
		EncryptedOutput: []byte("ciphertext-blob"),
		Index:           12,
		Bump:            7,
	}
	got, err := DecodeCommitmentMarker(want.Encode())
	if err != nil {
		t.Fatalf("DecodeCommitmentMarker: %v", err)
	}
	if !field.Equal(got.Commitment, want.Commitment) || got.Index != want.Index || got.Bump != want.Bump {
		t.Fatal("scalar fields did not round-trip")
	}
	if string(got.EncryptedOutput) != string(want.EncryptedOutput) {
		t.Fatal("encrypted output did not round-trip")
	}
}

func TestMemoryStoreNullifierMarkerIsSingleWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	addr := NullifierMarkerAddress(program, 0, field.FromUint64(1))
	m := &NullifierMarker{Nullifier: field.FromUint64(1), Bump: 1}

	if err := s.CreateNullifierMarker(ctx, addr, m); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.CreateNullifierMarker(ctx, addr, m); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on replay, got %v", err)
	}

	exists, err := s.HasNullifierMarker(ctx, addr)
	if err != nil {
		t.Fatalf("HasNullifierMarker: %v", err)
	}
	if !exists {
		t.Fatal("marker should exist after creation")
	}
}

func TestMemoryStoreListCommitmentMarkersFromOrdersByIndex(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, idx := range []uint64{2, 0, 1} {
		c := field.FromUint64(idx + 10)
		addr := CommitmentMarkerAddress(program, int(idx), c)
		if err := s.CreateCommitmentMarker(ctx, addr, &CommitmentMarker{Commitment: c, Index: idx}); err != nil {
			t.Fatalf("CreateCommitmentMarker(%d): %v", idx, err)
		}
	}

	markers, err := s.ListCommitmentMarkersFrom(ctx, 1)
	if err != nil {
		t.Fatalf("ListCommitmentMarkersFrom: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("expected 2 markers with index >= 1, got %d", len(markers))
	}
	if markers[0].Index != 1 || markers[1].Index != 2 {
		t.Fatalf("expected ascending order [1,2], got [%d,%d]", markers[0].Index, markers[1].Index)
	}
}
