// Package field implements BN254 scalar-field arithmetic for the shielded
// pool: every commitment, nullifier, tree node, and proof public input is an
// element of this field. Byte encodings come in two directions and callers
// must not mix them up: little-endian for everything persisted on the
// ledger (tree accounts, marker accounts), big-endian for everything that
// crosses the proof-public-input boundary.
package field

import (
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Size is the canonical byte width of a field element encoding.
const Size = fr.Bytes

var (
	// ErrTooLarge is returned when an input byte slice exceeds Size.
	ErrTooLarge = errors.New("field: input exceeds 32 bytes")

	// ErrNotCanonical is returned when a decoded value is not strictly less
	// than the field modulus, i.e. the encoding is not unique.
	ErrNotCanonical = errors.New("field: value is not less than the modulus")
)

// Element is a BN254 scalar-field element.
type Element struct {
	inner fr.Element
}

// Zero returns the additive identity.
func Zero() Element { return Element{} }

// FromUint64 lifts a small integer into the field.
func FromUint64(v uint64) Element {
	var e Element
	e.inner.SetUint64(v)
	return e
}

// FromInt64 lifts a signed integer into the field, wrapping negative values
// modulo p (p - |v|), matching the public-amount folding rule in §4.5.
func FromInt64(v int64) Element {
	var e Element
	if v >= 0 {
		e.inner.SetUint64(uint64(v))
		return e
	}
	e.inner.SetUint64(uint64(-v))
	e.inner.Neg(&e.inner)
	return e
}

// Reduce interprets up to 32 big-endian bytes as an integer and reduces it
// modulo p. Longer inputs are rejected outright rather than silently
// truncated.
func Reduce(b []byte) (Element, error) {
	if len(b) > Size {
		return Element{}, ErrTooLarge
	}
	var e Element
	e.inner.SetBytes(b)
	return e, nil
}

// DecodeBE decodes 32 big-endian bytes, rejecting any value that is not
// strictly less than the field modulus. Use this at the proof-public-input
// boundary where canonicity matters.
func DecodeBE(b [Size]byte) (Element, error) {
	var e Element
	e.inner.SetBytes(b[:])
	if e.inner.Bytes() != b {
		return Element{}, ErrNotCanonical
	}
	return e, nil
}

// DecodeLE decodes 32 little-endian bytes, rejecting non-canonical values.
// Use this when reading stored ledger account bytes.
func DecodeLE(b [Size]byte) (Element, error) {
	var rev [Size]byte
	reverse(b[:], rev[:])
	return DecodeBE(rev)
}

// EncodeBE returns the big-endian canonical encoding.
func (e Element) EncodeBE() [Size]byte {
	return e.inner.Bytes()
}

// EncodeLE returns the little-endian canonical encoding used for ledger
// storage.
func (e Element) EncodeLE() [Size]byte {
	be := e.inner.Bytes()
	var le [Size]byte
	reverse(be[:], le[:])
	return le
}

// Add returns a+b.
func Add(a, b Element) Element {
	var r Element
	r.inner.Add(&a.inner, &b.inner)
	return r
}

// Sub returns a-b.
func Sub(a, b Element) Element {
	var r Element
	r.inner.Sub(&a.inner, &b.inner)
	return r
}

// Equal reports whether a and b represent the same field element.
func Equal(a, b Element) bool {
	return a.inner.Equal(&b.inner)
}

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool {
	return e.inner.IsZero()
}

// BigInt returns e as a big.Int in [0, p).
func (e Element) BigInt() *big.Int {
	return e.inner.BigInt(new(big.Int))
}

// FromBigInt reduces an arbitrary big.Int modulo p.
func FromBigInt(v *big.Int) Element {
	var e Element
	e.inner.SetBigInt(v)
	return e
}

// Modulus returns the BN254 scalar-field modulus p.
func Modulus() *big.Int {
	return fr.Modulus()
}

func reverse(src, dst []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}
