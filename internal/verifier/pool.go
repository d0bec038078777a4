package verifier

import (
	"context"
	"sync"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/internal/groth16verify"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

// canonicalBump mirrors the one in internal/accounts; the verifier writes
// markers with it directly rather than round-tripping through Derive.
const canonicalBump byte = 0xff

// ProofVerifier checks a Groth16 proof against a verifying key and ordered
// public inputs. It exists as a seam so tests can substitute a stub: a real
// Groth16 proof requires the external circuit and trusted setup this
// system treats as an outside collaborator.
type ProofVerifier interface {
	Verify(vk *groth16verify.VerifyingKey, proof *groth16verify.Proof, publicInputs []field.Element) (bool, error)
}

type realProofVerifier struct{}

func (realProofVerifier) Verify(vk *groth16verify.VerifyingKey, proof *groth16verify.Proof, publicInputs []field.Element) (bool, error) {
	return groth16verify.Verify(vk, proof, publicInputs)
}

// Pool is one running instance of the shielded pool program: the
// accumulator, its persisted account mirror, the fee/value ledger, and the
// verifying key checked against every Transact.
type Pool struct {
	mu sync.Mutex

	program     address.Address
	nativeMint  field.Element
	vk          *groth16verify.VerifyingKey
	tree        *accumulator.Tree
	store       accounts.Store
	ledger      Ledger
	feeRecipient address.Address

	treeAddr       address.Address
	treeVaultAddr  address.Address
	configAddr     address.Address

	proofVerifier ProofVerifier

	initialized bool
}

// New constructs a Pool bound to program, ready for Initialize.
func New(program address.Address, nativeMint field.Element, vk *groth16verify.VerifyingKey, tree *accumulator.Tree, store accounts.Store, ledger Ledger, feeRecipient address.Address) *Pool {
	return &Pool{
		program:       program,
		nativeMint:    nativeMint,
		vk:            vk,
		tree:          tree,
		store:         store,
		ledger:        ledger,
		feeRecipient:  feeRecipient,
		treeAddr:      accounts.TreeAddress(program),
		treeVaultAddr: accounts.TreeVaultAddress(program),
		configAddr:    accounts.GlobalConfigAddress(program),
		proofVerifier: realProofVerifier{},
	}
}

// SetProofVerifierForTesting overrides the proof verifier. Production
// callers never need this; it exists because constructing a valid Groth16
// proof requires the external circuit and trusted setup.
func (p *Pool) SetProofVerifierForTesting(v ProofVerifier) {
	p.proofVerifier = v
}

// Initialize transitions the pool from Uninitialized to Initialized/Unpaused,
// setting the authority and deposit cap.
func (p *Pool) Initialize(ctx context.Context, authority address.Address, depositCap uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.tree.Init()
	cfg := &accounts.GlobalConfig{Authority: authority, DepositCap: depositCap, Paused: false, Bump: canonicalBump}
	if err := p.store.SaveGlobalConfig(ctx, p.configAddr, cfg); err != nil {
		return err
	}
	if err := p.store.SaveTreeAccount(ctx, p.treeAddr, treeAccountFromState(authority, depositCap, p.tree)); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

// treeAccountFromState mirrors the §6 tree account layout from live
// accumulator state. depositCap is carried here too because the layout
// pins a deposit_cap field on the tree account itself, duplicating
// GlobalConfig's copy; GlobalConfig remains the source of truth and this
// mirror is refreshed on every cap change.
func treeAccountFromState(authority address.Address, depositCap uint64, tree *accumulator.Tree) *accounts.TreeAccount {
	snap := tree.Snapshot()
	return &accounts.TreeAccount{
		Authority:  authority,
		NextIndex:  snap.NextIndex,
		Subtrees:   snap.Subtrees,
		Root:       snap.Root,
		RootRing:   snap.RootRing,
		RootIndex:  uint64(snap.RootIndex),
		DepositCap: depositCap,
		Bump:       canonicalBump,
	}
}

func (p *Pool) loadConfig(ctx context.Context) (*accounts.GlobalConfig, error) {
	if !p.initialized {
		return nil, ErrNotInitialized
	}
	return p.store.LoadGlobalConfig(ctx, p.configAddr)
}

// SetPaused toggles the pause flag; only the configured authority may do
// so.
func (p *Pool) SetPaused(ctx context.Context, caller address.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	cfg.Paused = paused
	return p.store.SaveGlobalConfig(ctx, p.configAddr, cfg)
}

// UpdateCap changes the deposit cap; only the authority may do so.
func (p *Pool) UpdateCap(ctx context.Context, caller address.Address, newCap uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	cfg.DepositCap = newCap
	if err := p.store.SaveGlobalConfig(ctx, p.configAddr, cfg); err != nil {
		return err
	}
	treeAcc, err := p.store.LoadTreeAccount(ctx, p.treeAddr)
	if err != nil {
		return err
	}
	treeAcc.DepositCap = newCap
	return p.store.SaveTreeAccount(ctx, p.treeAddr, treeAcc)
}

// WithdrawFees drains amount from the fee vault to destination. Only the
// authority may initiate it, and it must respect a rent-exempt minimum
// balance the fee vault always retains.
func (p *Pool) WithdrawFees(ctx context.Context, caller, destination address.Address, amount, rentExemptMinimum uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, err := p.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Authority != caller {
		return ErrUnauthorized
	}
	balance, err := p.ledger.Balance(ctx, p.feeRecipient)
	if err != nil {
		return err
	}
	if balance < amount+rentExemptMinimum {
		return ErrArithmeticOverflow
	}
	return p.ledger.Transfer(ctx, p.feeRecipient, destination, amount)
}

// TreeAddress returns the pool's derived tree account address.
func (p *Pool) TreeAddress() address.Address { return p.treeAddr }

// TreeVaultAddress returns the pool's derived tree vault address.
func (p *Pool) TreeVaultAddress() address.Address { return p.treeVaultAddr }

// GlobalConfigAddress returns the pool's derived config account address.
func (p *Pool) GlobalConfigAddress() address.Address { return p.configAddr }

// FeeRecipientAddress returns the pool's fixed fee recipient address.
func (p *Pool) FeeRecipientAddress() address.Address { return p.feeRecipient }

// Program returns the program (pool) address itself.
func (p *Pool) Program() address.Address { return p.program }
