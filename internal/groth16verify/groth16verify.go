// Package groth16verify checks Groth16 proofs over BN254 against a fixed
// verifying key. The verifying key and the circuit it was generated for are
// external inputs to this package: they come from a trusted setup run once,
// offline, for the fixed-height accumulator circuit, and are loaded here as
// opaque coordinate data. This package never runs the circuit and never
// generates a proof; it only checks one.
//
// The wire format decoded here is raw, uncompressed G1/G2 coordinates (two
// or four 32-byte big-endian field elements), not gnark's own proof
// serialization. That is the format a ledger program lays the proof out in
// (§6), so it is the format this package must speak.
package groth16verify

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"

	"github.com/ccoin/shieldpool/pkg/field"
)

const (
	g1Size = 64  // X || Y, 32 bytes each, big-endian
	g2Size = 128 // X.A1 || X.A0 || Y.A1 || Y.A0, 32 bytes each, big-endian
)

var (
	// ErrWrongLength is returned when a wire-format byte slice is not
	// exactly the expected size for the point it encodes.
	ErrWrongLength = errors.New("groth16verify: wrong-length point encoding")

	// ErrNotOnCurve is returned when decoded coordinates do not satisfy the
	// curve equation.
	ErrNotOnCurve = errors.New("groth16verify: point is not on the curve")

	// ErrPublicInputCount is returned when the number of supplied public
	// inputs does not match the verifying key's IC length minus one.
	ErrPublicInputCount = errors.New("groth16verify: public input count does not match verifying key")
)

// VerifyingKey holds the fixed parameters of the trusted setup for one
// circuit. IC has one entry per public input, plus one (IC[0] is the
// constant term).
type VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// Proof is a Groth16 proof: three curve points, no metadata.
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

func decodeFp(b []byte) fp.Element {
	var e fp.Element
	e.SetBytes(b)
	return e
}

// decodeG1 parses 64 raw big-endian bytes (X || Y) into a curve point and
// checks it lies on the curve.
func decodeG1(b []byte) (bn254.G1Affine, error) {
	if len(b) != g1Size {
		return bn254.G1Affine{}, ErrWrongLength
	}
	var p bn254.G1Affine
	p.X = decodeFp(b[0:32])
	p.Y = decodeFp(b[32:64])
	if !p.IsOnCurve() {
		return bn254.G1Affine{}, ErrNotOnCurve
	}
	return p, nil
}

// decodeG2 parses 128 raw big-endian bytes into a G2 point. Within each of
// X and Y the Fp2 tower coordinates are laid out A1 before A0.
func decodeG2(b []byte) (bn254.G2Affine, error) {
	if len(b) != g2Size {
		return bn254.G2Affine{}, ErrWrongLength
	}
	var p bn254.G2Affine
	p.X.A1 = decodeFp(b[0:32])
	p.X.A0 = decodeFp(b[32:64])
	p.Y.A1 = decodeFp(b[64:96])
	p.Y.A0 = decodeFp(b[96:128])
	if !p.IsOnCurve() {
		return bn254.G2Affine{}, ErrNotOnCurve
	}
	return p, nil
}

// DecodeProof parses the 256-byte wire layout (A:64 || B:128 || C:64) from
// a Transact instruction's proof field.
func DecodeProof(raw []byte) (*Proof, error) {
	if len(raw) != g1Size+g2Size+g1Size {
		return nil, ErrWrongLength
	}
	a, err := decodeG1(raw[0:g1Size])
	if err != nil {
		return nil, err
	}
	b, err := decodeG2(raw[g1Size : g1Size+g2Size])
	if err != nil {
		return nil, err
	}
	c, err := decodeG1(raw[g1Size+g2Size:])
	if err != nil {
		return nil, err
	}
	return &Proof{A: a, B: b, C: c}, nil
}

// computeVKX folds the public inputs into the verifying key's linear
// combination term: vk_x = IC[0] + sum_i IC[i+1] * publicInputs[i].
func computeVKX(vk *VerifyingKey, publicInputs []field.Element) (bn254.G1Affine, error) {
	if len(publicInputs) != len(vk.IC)-1 {
		return bn254.G1Affine{}, ErrPublicInputCount
	}
	vkx := vk.IC[0]
	for i, in := range publicInputs {
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], in.BigInt())
		vkx.Add(&vkx, &term)
	}
	return vkx, nil
}

// Verify checks proof against vk and the ordered public inputs, returning
// true iff e(A,B) == e(alpha,beta) * e(vk_x,gamma) * e(C,delta).
//
// The equality is checked as a single multi-pairing product equal to one:
//
//	e(-A, B) * e(alpha, beta) * e(vk_x, gamma) * e(C, delta) == 1
func Verify(vk *VerifyingKey, proof *Proof, publicInputs []field.Element) (bool, error) {
	vkx, err := computeVKX(vk, publicInputs)
	if err != nil {
		return false, err
	}

	var negA bn254.G1Affine
	negA.Neg(&proof.A)

	p := []bn254.G1Affine{negA, vk.Alpha, vkx, proof.C}
	q := []bn254.G2Affine{proof.B, vk.Beta, vk.Gamma, vk.Delta}

	ok, err := bn254.PairingCheck(p, q)
	if err != nil {
		return false, err
	}
	return ok, nil
}
