// Package extdata implements the external-data envelope and its binding
// hash: the only externally observable ledger effects of a shielded
// transaction (recipient, external amount, fee, fee recipient, mint, and
// both encrypted outputs) reduced to a single field element the proof
// commits to.
package extdata

import (
	"encoding/binary"
	"errors"

	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
	"github.com/ccoin/shieldpool/pkg/poseidon"
)

// ErrEncryptedOutputTooLarge guards against pathological envelopes; the
// wire format length-prefixes each blob with a u32, so anything larger
// cannot round-trip.
var ErrEncryptedOutputTooLarge = errors.New("extdata: encrypted output exceeds u32 length")

const maxEncryptedOutputLen = 1<<32 - 1

var domain = poseidon.DomainTag("shieldpool/extdata")

// Envelope is the external envelope (ExtData) bound to a transaction's
// proof.
type Envelope struct {
	Recipient        address.Address
	ExtAmount        int64 // positive = deposit, negative = withdrawal
	Fee              uint64
	FeeRecipient     address.Address
	Mint             field.Element
	EncryptedOutput1 []byte
	EncryptedOutput2 []byte
}

// Hash computes the domain-separated extDataHash the proof's public input
// must equal. Every byte of every field participates; changing any one of
// them changes the hash.
func (e Envelope) Hash() (field.Element, error) {
	if len(e.EncryptedOutput1) > maxEncryptedOutputLen || len(e.EncryptedOutput2) > maxEncryptedOutputLen {
		return field.Element{}, ErrEncryptedOutputTooLarge
	}

	recipient, err := field.Reduce(e.Recipient[:])
	if err != nil {
		return field.Element{}, err
	}
	feeRecipient, err := field.Reduce(e.FeeRecipient[:])
	if err != nil {
		return field.Element{}, err
	}

	extAmountBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(extAmountBytes, uint64(e.ExtAmount))
	extAmountField, err := field.Reduce(extAmountBytes)
	if err != nil {
		return field.Element{}, err
	}

	out1, err := reduceBlob(e.EncryptedOutput1)
	if err != nil {
		return field.Element{}, err
	}
	out2, err := reduceBlob(e.EncryptedOutput2)
	if err != nil {
		return field.Element{}, err
	}

	inputs := []field.Element{
		domain,
		recipient,
		extAmountField,
		field.FromUint64(e.Fee),
		feeRecipient,
		e.Mint,
		out1,
		out2,
	}
	return poseidon.HashMany(inputs), nil
}

// reduceBlob folds an arbitrary-length byte string down to one field
// element by chunking it into 31-byte (sub-modulus-width) pieces and
// right-folding them with HashMany, so length and content both affect the
// result without ever exceeding the field's capacity per chunk.
func reduceBlob(b []byte) (field.Element, error) {
	if len(b) == 0 {
		return field.Zero(), nil
	}
	const chunkSize = 31
	chunks := make([]field.Element, 0, (len(b)+chunkSize-1)/chunkSize)
	for i := 0; i < len(b); i += chunkSize {
		end := i + chunkSize
		if end > len(b) {
			end = len(b)
		}
		e, err := field.Reduce(b[i:end])
		if err != nil {
			return field.Element{}, err
		}
		chunks = append(chunks, e)
	}
	lengthTag := field.FromUint64(uint64(len(b)))
	chunks = append(chunks, lengthTag)
	return poseidon.HashMany(chunks), nil
}
