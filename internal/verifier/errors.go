// Package verifier implements the pool's on-ledger state machine: the
// Transact check-and-commit procedure, fee withdrawal, pausing, and cap
// updates. It holds no opinion on how its effects actually reach a ledger;
// a Ledger implementation supplies that.
package verifier

import "errors"

// Error taxonomy. Every check the pool performs rejects with one of these
// so callers can branch on errors.Is rather than parsing messages. Errors
// from the Ledger's transfers and from Initialize's store writes are
// returned as the Ledger or store produced them.
var (
	ErrInvalidInstruction   = errors.New("verifier: invalid instruction")
	ErrInvalidProof         = errors.New("verifier: invalid proof")
	ErrInvalidPublicInputs  = errors.New("verifier: invalid public inputs")
	ErrUnknownRoot          = errors.New("verifier: unknown root")
	ErrMintMismatch         = errors.New("verifier: mint mismatch")
	ErrExtDataHashMismatch  = errors.New("verifier: ext data hash mismatch")
	ErrPublicAmountMismatch = errors.New("verifier: public amount mismatch")
	ErrDepositTooLarge      = errors.New("verifier: deposit exceeds cap")
	ErrTreeFull             = errors.New("verifier: tree is full")
	ErrMarkerAddressMismatch = errors.New("verifier: marker address mismatch")
	ErrNullifierAlreadyUsed  = errors.New("verifier: nullifier already used")
	ErrPaused               = errors.New("verifier: pool is paused")
	ErrUnauthorized         = errors.New("verifier: unauthorized")
	ErrArithmeticOverflow   = errors.New("verifier: arithmetic overflow")
	ErrSerializationError   = errors.New("verifier: serialization error")
	ErrNotInitialized       = errors.New("verifier: pool is not initialized")
	ErrAlreadyInitialized   = errors.New("verifier: pool is already initialized")
)
