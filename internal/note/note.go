// Package note implements the shielded pool's note data model: the
// commitment/nullifier pair, the shared keypair that binds every input and
// output of one transaction together, and the canonical zero-amount dummy
// note used to fill unused slots.
//
// The exact multi-input combiner (how a >2-ary hash is built out of the
// arity-2 Poseidon permutation) is a compiled-circuit detail this package
// cannot re-derive on its own; it uses nested Hash2 calls for the
// commitment and poseidon.HashMany's right fold for the spend signature.
package note

import (
	"crypto/rand"
	"errors"

	"github.com/ccoin/shieldpool/pkg/field"
	"github.com/ccoin/shieldpool/pkg/poseidon"
)

var (
	// ErrBlindingOutOfRange is returned when a supplied blinding factor does
	// not reduce to a canonical field element.
	ErrBlindingOutOfRange = errors.New("note: blinding factor out of range")
)

var pubkeyDomain = poseidon.DomainTag("shieldpool/pubkey")

// Note is a single spendable (or, for an unused slot, dummy) unit of value
// in the pool.
type Note struct {
	Amount   uint64
	Blinding field.Element
	Pubkey   field.Element
	Mint     field.Element
	Index    uint64 // populated once the note has a tree position
}

// Dummy returns the canonical zero-amount note for an unused input/output
// slot, bound to the given shared keypair and mint.
func Dummy(pubkey, mint field.Element) Note {
	return Note{Amount: 0, Blinding: field.Zero(), Pubkey: pubkey, Mint: mint}
}

// IsDummy reports whether the note carries zero value.
func (n Note) IsDummy() bool { return n.Amount == 0 }

// Commitment computes commitment = H(H(mint, amount), H(pubkey, blinding)),
// the two-level Poseidon combine from spec.md §4.3.
func (n Note) Commitment() field.Element {
	left := poseidon.Hash2(n.Mint, field.FromUint64(n.Amount))
	right := poseidon.Hash2(n.Pubkey, n.Blinding)
	return poseidon.Hash2(left, right)
}

// Keypair is the shared signing key used across every input and output of a
// single shielded transaction. The circuit constrains
// pubkey(input_k) == H(privkey) for every input, so a transaction's inputs
// (and, by convention, its outputs) all carry the same pubkey.
type Keypair struct {
	Privkey field.Element
	Pubkey  field.Element
}

// DeriveKeypair derives a deterministic keypair from wallet material so that
// re-scanning the chain for owned notes is possible without persisting the
// key anywhere.
func DeriveKeypair(walletSeed []byte) (Keypair, error) {
	privkey, err := field.Reduce(walletSeed)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		Privkey: privkey,
		Pubkey:  poseidon.Hash2(privkey, pubkeyDomain),
	}, nil
}

// RandomBlinding generates a fresh blinding factor for a new note.
func RandomBlinding() (field.Element, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return field.Element{}, err
	}
	return field.Reduce(buf[:])
}

// Spend derives the signature and nullifier for spending note at its
// recorded tree index with the given spending key:
//
//	sig       = H(privkey, commitment, index)
//	nullifier = H(H(commitment, index), sig)
func Spend(kp Keypair, n Note) (sig, nullifier field.Element) {
	commitment := n.Commitment()
	indexField := field.FromUint64(n.Index)

	sig = poseidon.HashMany([]field.Element{kp.Privkey, commitment, indexField})

	inner := poseidon.Hash2(commitment, indexField)
	nullifier = poseidon.Hash2(inner, sig)
	return sig, nullifier
}

// Nullifier is a convenience wrapper around Spend for callers that only
// need the nullifier.
func Nullifier(kp Keypair, n Note) field.Element {
	_, nf := Spend(kp, n)
	return nf
}
