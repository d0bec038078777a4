package verifier

import (
	"context"
	"testing"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/internal/extdata"
	"github.com/ccoin/shieldpool/internal/groth16verify"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

// acceptAllProofs stands in for a real Groth16 verification: this package
// has no trusted setup or compiled circuit to generate a genuinely valid
// proof against, so every scenario below exercises everything Transact
// does except the proof verification itself.
type acceptAllProofs struct{}

func (acceptAllProofs) Verify(*groth16verify.VerifyingKey, *groth16verify.Proof, []field.Element) (bool, error) {
	return true, nil
}

var (
	testProgram      = address.Address{1}
	testAuthority    = address.Address{2}
	testSigner       = address.Address{3}
	testRecipient    = address.Address{4}
	testNativeMint   = field.FromUint64(7)
)

func newTestPool(t *testing.T, height, ringCap int, depositCap uint64) (*Pool, *InMemoryLedger) {
	t.Helper()
	tree, err := accumulator.New(accumulator.NewInMemoryStore(), height, ringCap)
	if err != nil {
		t.Fatalf("accumulator.New: %v", err)
	}
	store := accounts.NewMemoryStore()
	feeRecipient := accounts.Derive(testProgram, []byte("fee_recipient"))
	ledger := NewInMemoryLedger(map[address.Address]uint64{testSigner: 100000})

	pool := New(testProgram, testNativeMint, nil, tree, store, ledger, feeRecipient)
	pool.SetProofVerifierForTesting(acceptAllProofs{})
	if err := pool.Initialize(context.Background(), testAuthority, depositCap); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return pool, ledger
}

func buildRequest(t *testing.T, pool *Pool, root field.Element, extAmount int64, fee uint64, recipient address.Address, outCommitments [2]field.Element, inNullifiers [2]field.Element) *TransactRequest {
	t.Helper()
	env := extdata.Envelope{
		Recipient:        recipient,
		ExtAmount:        extAmount,
		Fee:              fee,
		FeeRecipient:     pool.FeeRecipientAddress(),
		Mint:             testNativeMint,
		EncryptedOutput1: []byte("out1"),
		EncryptedOutput2: []byte("out2"),
	}
	envHash, err := env.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	publicAmount, err := computePublicAmount(extAmount, fee)
	if err != nil {
		t.Fatalf("computePublicAmount: %v", err)
	}

	var commitmentMarkers, nullifierMarkers [2]address.Address
	for k := 0; k < 2; k++ {
		commitmentMarkers[k] = accounts.CommitmentMarkerAddress(testProgram, k, outCommitments[k])
		nullifierMarkers[k] = accounts.NullifierMarkerAddress(testProgram, k, inNullifiers[k])
	}

	return &TransactRequest{
		Proof: &groth16verify.Proof{},
		Public: PublicInputs{
			Root:             root,
			PublicAmount:     publicAmount,
			ExtDataHash:      envHash,
			InputNullifier:   inNullifiers,
			OutputCommitment: outCommitments,
			Mint:             testNativeMint,
		},
		Envelope:          env,
		Signer:            testSigner,
		Recipient:         recipient,
		CommitmentMarkers: commitmentMarkers,
		NullifierMarkers:  nullifierMarkers,
	}
}

// TestFreshDepositAndWithdrawal covers spec scenarios 1-3: a deposit, a
// withdrawal spending one of its outputs, and rejection of a verbatim
// replay of that withdrawal.
func TestFreshDepositAndWithdrawal(t *testing.T) {
	ctx := context.Background()
	pool, ledger := newTestPool(t, 3, 10, 1000)

	c0, c1 := field.FromUint64(100), field.FromUint64(101)
	n0, n1 := field.FromUint64(200), field.FromUint64(201)

	depositRoot := pool.tree.Root()
	depositReq := buildRequest(t, pool, depositRoot, 100, 10, address.Address{}, [2]field.Element{c0, c1}, [2]field.Element{n0, n1})

	res, err := pool.Transact(ctx, depositReq)
	if err != nil {
		t.Fatalf("deposit Transact: %v", err)
	}
	if res.OutputIndices[0] != 0 || res.OutputIndices[1] != 1 {
		t.Fatalf("unexpected output indices: %+v", res.OutputIndices)
	}

	vaultBal, _ := ledger.Balance(ctx, pool.TreeVaultAddress())
	feeBal, _ := ledger.Balance(ctx, pool.FeeRecipientAddress())
	signerBal, _ := ledger.Balance(ctx, testSigner)
	if vaultBal != 90 {
		t.Fatalf("vault balance = %d, want 90", vaultBal)
	}
	if feeBal != 10 {
		t.Fatalf("fee balance = %d, want 10", feeBal)
	}
	if signerBal != 100000-100 {
		t.Fatalf("signer balance = %d, want %d", signerBal, 100000-100)
	}

	// Withdrawal spending c0, against the root just produced.
	c2, c3 := field.FromUint64(102), field.FromUint64(103)
	n2, n3 := field.FromUint64(202), field.FromUint64(203)
	withdrawRoot := pool.tree.Root()
	withdrawReq := buildRequest(t, pool, withdrawRoot, -50, 5, testRecipient, [2]field.Element{c2, c3}, [2]field.Element{n2, n3})

	if _, err := pool.Transact(ctx, withdrawReq); err != nil {
		t.Fatalf("withdraw Transact: %v", err)
	}

	vaultBal, _ = ledger.Balance(ctx, pool.TreeVaultAddress())
	recipientBal, _ := ledger.Balance(ctx, testRecipient)
	feeBal, _ = ledger.Balance(ctx, pool.FeeRecipientAddress())
	if vaultBal != 35 {
		t.Fatalf("vault balance after withdrawal = %d, want 35", vaultBal)
	}
	if recipientBal != 50 {
		t.Fatalf("recipient balance = %d, want 50", recipientBal)
	}
	if feeBal != 15 {
		t.Fatalf("fee balance after withdrawal = %d, want 15", feeBal)
	}
	if pool.tree.NextIndex() != 4 {
		t.Fatalf("next index = %d, want 4", pool.tree.NextIndex())
	}

	// Scenario 3: verbatim replay must fail with NullifierAlreadyUsed.
	if _, err := pool.Transact(ctx, withdrawReq); err != ErrNullifierAlreadyUsed {
		t.Fatalf("replay: expected ErrNullifierAlreadyUsed, got %v", err)
	}
}

// TestStaleRootRejected covers spec scenario 4.
func TestStaleRootRejected(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 4, 1, 1000)

	firstRoot := pool.tree.Root()

	// Age firstRoot out of a 1-entry ring with one more transaction.
	c0, c1 := field.FromUint64(1), field.FromUint64(2)
	n0, n1 := field.FromUint64(3), field.FromUint64(4)
	req := buildRequest(t, pool, firstRoot, 10, 1, address.Address{}, [2]field.Element{c0, c1}, [2]field.Element{n0, n1})
	if _, err := pool.Transact(ctx, req); err != nil {
		t.Fatalf("Transact: %v", err)
	}

	c2, c3 := field.FromUint64(5), field.FromUint64(6)
	n2, n3 := field.FromUint64(7), field.FromUint64(8)
	staleReq := buildRequest(t, pool, firstRoot, 10, 1, address.Address{}, [2]field.Element{c2, c3}, [2]field.Element{n2, n3})
	if _, err := pool.Transact(ctx, staleReq); err != ErrUnknownRoot {
		t.Fatalf("expected ErrUnknownRoot, got %v", err)
	}
}

// TestEnvelopeTamperingRejected covers spec scenario 5.
func TestEnvelopeTamperingRejected(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 3, 10, 1000)

	c0, c1 := field.FromUint64(1), field.FromUint64(2)
	n0, n1 := field.FromUint64(3), field.FromUint64(4)
	req := buildRequest(t, pool, pool.tree.Root(), -50, 5, testRecipient, [2]field.Element{c0, c1}, [2]field.Element{n0, n1})

	// Tamper with the recipient after the (stubbed) proof's public input
	// for extDataHash was fixed.
	req.Envelope.Recipient = address.Address{0xff}

	if _, err := pool.Transact(ctx, req); err != ErrExtDataHashMismatch {
		t.Fatalf("expected ErrExtDataHashMismatch, got %v", err)
	}
}

// TestDepositCapEnforced covers spec scenario 6.
func TestDepositCapEnforced(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 3, 10, 100)

	c0, c1 := field.FromUint64(1), field.FromUint64(2)
	n0, n1 := field.FromUint64(3), field.FromUint64(4)
	req := buildRequest(t, pool, pool.tree.Root(), 101, 1, address.Address{}, [2]field.Element{c0, c1}, [2]field.Element{n0, n1})

	if _, err := pool.Transact(ctx, req); err != ErrDepositTooLarge {
		t.Fatalf("expected ErrDepositTooLarge, got %v", err)
	}
}

// TestPausedRejectsTransact ensures a paused pool rejects every Transact.
func TestPausedRejectsTransact(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 3, 10, 1000)
	if err := pool.SetPaused(ctx, testAuthority, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	c0, c1 := field.FromUint64(1), field.FromUint64(2)
	n0, n1 := field.FromUint64(3), field.FromUint64(4)
	req := buildRequest(t, pool, pool.tree.Root(), 10, 1, address.Address{}, [2]field.Element{c0, c1}, [2]field.Element{n0, n1})

	if _, err := pool.Transact(ctx, req); err != ErrPaused {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

// TestAuthorityMonopoly covers the authority-monopoly property from §8.
func TestAuthorityMonopoly(t *testing.T) {
	ctx := context.Background()
	pool, _ := newTestPool(t, 3, 10, 1000)

	impostor := address.Address{0xde, 0xad}
	if err := pool.SetPaused(ctx, impostor, true); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for SetPaused, got %v", err)
	}
	if err := pool.UpdateCap(ctx, impostor, 1); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for UpdateCap, got %v", err)
	}
	if err := pool.WithdrawFees(ctx, impostor, testRecipient, 1, 0); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for WithdrawFees, got %v", err)
	}
}
