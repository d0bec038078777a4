// Package poseidon provides the arity-2 Poseidon permutation over the BN254
// scalar field used for all accumulator, commitment, nullifier, and
// external-data hashing in the pool. The concrete round constants and MDS
// matrix are iden3's reference parameterization; they must match whatever
// the compiled circuit's verifying key was built against bit-for-bit, so
// this package never reimplements the permutation — it only wraps it.
package poseidon

import (
	"math/big"

	iden3poseidon "github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/ccoin/shieldpool/pkg/field"
)

// Hash2 computes the two-input Poseidon hash H(a, b).
func Hash2(a, b field.Element) field.Element {
	out, err := iden3poseidon.Hash([]*big.Int{a.BigInt(), b.BigInt()})
	if err != nil {
		// Hash only fails on arity bounds, which two inputs never hits.
		panic("poseidon: unexpected hash failure: " + err.Error())
	}
	return field.FromBigInt(out)
}

// HashMany right-folds a sequence of field elements through Hash2:
//
//	HashMany([x0])          = x0
//	HashMany([x0, x1])      = Hash2(x0, x1)
//	HashMany([x0, .., xn])  = Hash2(x0, HashMany([x1, .., xn]))
//
// This matches the spec's "right-folded pairwise" combiner.
func HashMany(xs []field.Element) field.Element {
	switch len(xs) {
	case 0:
		return field.Zero()
	case 1:
		return xs[0]
	default:
		return Hash2(xs[0], HashMany(xs[1:]))
	}
}

// DomainTag derives a field element from a short ASCII domain-separation
// string, for binding a hash to a particular protocol use (e.g.
// "shieldpool/extdata"). The string is reduced the same way any other input
// byte string is reduced before hashing.
func DomainTag(label string) field.Element {
	e, err := field.Reduce([]byte(label))
	if err != nil {
		// Domain labels are short ASCII literals chosen by us; this can
		// only fail if one ever grows past 32 bytes.
		panic("poseidon: domain label too long: " + label)
	}
	return e
}
