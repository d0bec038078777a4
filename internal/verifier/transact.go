package verifier

import (
	"context"
	"fmt"
	"math"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/internal/extdata"
	"github.com/ccoin/shieldpool/internal/groth16verify"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

// PublicInputs is the fixed-order public input tuple from §6:
// root, publicAmount, extDataHash, inputNullifier[0..1], outputCommitment[0..1], mint.
type PublicInputs struct {
	Root             field.Element
	PublicAmount     field.Element
	ExtDataHash      field.Element
	InputNullifier   [2]field.Element
	OutputCommitment [2]field.Element
	Mint             field.Element
}

func (pi PublicInputs) ordered() []field.Element {
	return []field.Element{
		pi.Root, pi.PublicAmount, pi.ExtDataHash,
		pi.InputNullifier[0], pi.InputNullifier[1],
		pi.OutputCommitment[0], pi.OutputCommitment[1],
		pi.Mint,
	}
}

// TransactRequest bundles everything one Transact call needs: the proof,
// its claimed public inputs, the external envelope, the accounts the
// caller claims are the correct markers, and the parties moving value.
type TransactRequest struct {
	Proof  *groth16verify.Proof
	Public PublicInputs

	Envelope extdata.Envelope

	Signer    address.Address
	Recipient address.Address

	CommitmentMarkers [2]address.Address
	NullifierMarkers  [2]address.Address
}

// TransactResult reports what a successful Transact actually did.
type TransactResult struct {
	OutputIndices [2]uint64
	NewRoot       field.Element
}

// Transact runs the full §4.5 check-and-commit procedure. Any failure
// leaves no persisted state change; Pool.mu serializes calls, which is what
// makes the nullifier check-then-create in step 9 safe without a native
// multi-row transaction.
func (p *Pool) Transact(ctx context.Context, req *TransactRequest) (*TransactResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. paused check
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrPaused
	}

	// 2. marker address derivation match
	for k := 0; k < 2; k++ {
		wantC := accounts.CommitmentMarkerAddress(p.program, k, req.Public.OutputCommitment[k])
		if wantC != req.CommitmentMarkers[k] {
			return nil, ErrMarkerAddressMismatch
		}
		wantN := accounts.NullifierMarkerAddress(p.program, k, req.Public.InputNullifier[k])
		if wantN != req.NullifierMarkers[k] {
			return nil, ErrMarkerAddressMismatch
		}
	}

	// 3. mint match
	if !field.Equal(req.Public.Mint, p.nativeMint) {
		return nil, ErrMintMismatch
	}

	// 4. root known
	if !p.tree.KnownRoot(req.Public.Root) {
		return nil, ErrUnknownRoot
	}

	// 5. extDataHash recompute
	envHash, err := req.Envelope.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}
	if !field.Equal(envHash, req.Public.ExtDataHash) {
		return nil, ErrExtDataHashMismatch
	}

	// 6. publicAmount recompute
	wantAmount, err := computePublicAmount(req.Envelope.ExtAmount, req.Envelope.Fee)
	if err != nil {
		return nil, err
	}
	if !field.Equal(wantAmount, req.Public.PublicAmount) {
		return nil, ErrPublicAmountMismatch
	}

	// 7. deposit cap
	if req.Envelope.ExtAmount >= 0 && uint64(req.Envelope.ExtAmount) > cfg.DepositCap {
		return nil, ErrDepositTooLarge
	}

	// 8. proof verification
	ok, err := p.proofVerifier.Verify(p.vk, req.Proof, req.Public.ordered())
	if err != nil || !ok {
		return nil, ErrInvalidProof
	}

	// 9. nullifier markers: atomic, all-or-nothing
	for k := 0; k < 2; k++ {
		exists, err := p.store.HasNullifierMarker(ctx, req.NullifierMarkers[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
		}
		if exists {
			return nil, ErrNullifierAlreadyUsed
		}
	}
	for k := 0; k < 2; k++ {
		marker := &accounts.NullifierMarker{Nullifier: req.Public.InputNullifier[k], Bump: canonicalBump}
		if err := p.store.CreateNullifierMarker(ctx, req.NullifierMarkers[k], marker); err != nil {
			return nil, ErrNullifierAlreadyUsed
		}
	}

	// 10. insert output commitments, persist commitment markers
	var indices [2]uint64
	encryptedOutputs := [2][]byte{req.Envelope.EncryptedOutput1, req.Envelope.EncryptedOutput2}
	for k := 0; k < 2; k++ {
		idx, err := p.tree.Insert(req.Public.OutputCommitment[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTreeFull, err)
		}
		indices[k] = idx
		marker := &accounts.CommitmentMarker{
			Commitment:      req.Public.OutputCommitment[k],
			EncryptedOutput: encryptedOutputs[k],
			Index:           idx,
			Bump:            canonicalBump,
		}
		if err := p.store.CreateCommitmentMarker(ctx, req.CommitmentMarkers[k], marker); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
		}
	}

	// 11. move value
	if req.Envelope.ExtAmount >= 0 {
		if err := p.ledger.Transfer(ctx, req.Signer, p.treeVaultAddr, uint64(req.Envelope.ExtAmount)); err != nil {
			return nil, err
		}
		if err := p.ledger.Transfer(ctx, p.treeVaultAddr, p.feeRecipient, req.Envelope.Fee); err != nil {
			return nil, err
		}
	} else {
		absAmount := uint64(-req.Envelope.ExtAmount)
		if err := p.ledger.Transfer(ctx, p.treeVaultAddr, req.Recipient, absAmount); err != nil {
			return nil, err
		}
		if err := p.ledger.Transfer(ctx, p.treeVaultAddr, p.feeRecipient, req.Envelope.Fee); err != nil {
			return nil, err
		}
	}

	// 12. persist tree state (book-keeping). No logs are emitted; the
	// indexer reads the commitment markers written in step 10.
	treeAcc, err := p.store.LoadTreeAccount(ctx, p.treeAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}
	updated := treeAccountFromState(treeAcc.Authority, treeAcc.DepositCap, p.tree)
	if err := p.store.SaveTreeAccount(ctx, p.treeAddr, updated); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}

	return &TransactResult{OutputIndices: indices, NewRoot: p.tree.Root()}, nil
}

// computePublicAmount recomputes the field-encoded signed net flow per §4.5
// step 6: extAmount - fee folded into [0, p) for deposits, or
// p - (|extAmount| + fee) for withdrawals.
func computePublicAmount(extAmount int64, fee uint64) (field.Element, error) {
	if extAmount >= 0 {
		return field.Sub(field.FromInt64(extAmount), field.FromUint64(fee)), nil
	}
	if extAmount == math.MinInt64 {
		return field.Element{}, ErrArithmeticOverflow
	}
	abs := uint64(-extAmount)
	if abs > math.MaxUint64-fee {
		return field.Element{}, ErrArithmeticOverflow
	}
	sum := abs + fee
	return field.Sub(field.Zero(), field.FromUint64(sum)), nil
}
