package note

import (
	"testing"

	"github.com/ccoin/shieldpool/pkg/field"
)

func TestCommitmentDeterminism(t *testing.T) {
	kp, err := DeriveKeypair([]byte("wallet-seed-one"))
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	blinding, err := RandomBlinding()
	if err != nil {
		t.Fatalf("RandomBlinding: %v", err)
	}
	mint, _ := DeriveKeypair([]byte("mint-tag"))

	n1 := Note{Amount: 100, Blinding: blinding, Pubkey: kp.Pubkey, Mint: mint.Pubkey}
	n2 := Note{Amount: 100, Blinding: blinding, Pubkey: kp.Pubkey, Mint: mint.Pubkey}

	if n1.Commitment() != n2.Commitment() {
		t.Fatal("identical notes must produce identical commitments")
	}

	n3 := n1
	n3.Amount = 101
	if n1.Commitment() == n3.Commitment() {
		t.Fatal("different amount must produce a different commitment")
	}
}

func TestKeypairDeterministic(t *testing.T) {
	kp1, err := DeriveKeypair([]byte("seed"))
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	kp2, err := DeriveKeypair([]byte("seed"))
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	if kp1.Pubkey != kp2.Pubkey {
		t.Fatal("same seed must derive the same pubkey")
	}

	kp3, _ := DeriveKeypair([]byte("other-seed"))
	if kp1.Pubkey == kp3.Pubkey {
		t.Fatal("different seeds should (overwhelmingly likely) derive different pubkeys")
	}
}

func TestNullifierUniqueness(t *testing.T) {
	kp, _ := DeriveKeypair([]byte("owner"))
	blinding, _ := RandomBlinding()

	base := Note{Amount: 50, Blinding: blinding, Pubkey: kp.Pubkey, Mint: field.Zero(), Index: 3}

	nf1 := Nullifier(kp, base)

	moved := base
	moved.Index = 4
	nf2 := Nullifier(kp, moved)

	if nf1 == nf2 {
		t.Fatal("nullifiers for the same note at different positions must differ")
	}

	otherOwner, _ := DeriveKeypair([]byte("not-owner"))
	nf3 := Nullifier(otherOwner, base)
	if nf1 == nf3 {
		t.Fatal("nullifiers derived with a different key must differ")
	}
}

func TestDummyNoteIsZeroAmount(t *testing.T) {
	kp, _ := DeriveKeypair([]byte("owner"))
	d := Dummy(kp.Pubkey, field.Zero())
	if !d.IsDummy() {
		t.Fatal("Dummy() must produce a zero-amount note")
	}
}
