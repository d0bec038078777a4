// Package relay implements the submission path described in spec.md §4.7:
// deposits are forwarded to the ledger unmodified, while withdrawals are
// assembled from a client's proof and envelope, fee-paid from a relay-held
// hot wallet, and submitted with retry. The relay never sees a user's
// spending key and cannot alter anything extDataHash binds.
package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ccoin/shieldpool/internal/extdata"
	"github.com/ccoin/shieldpool/internal/groth16verify"
	"github.com/ccoin/shieldpool/internal/indexer"
	"github.com/ccoin/shieldpool/internal/verifier"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

// ErrNoHotWallet is returned when a Relay built without a fee-payer key is
// asked to submit a withdrawal.
var ErrNoHotWallet = errors.New("relay: no fee-payer hot wallet configured")

// LedgerClient abstracts the underlying ledger's transaction submission.
// In production this talks to the real chain; DirectPoolClient below
// submits straight to an in-process verifier.Pool for local development
// and tests.
type LedgerClient interface {
	Submit(ctx context.Context, req *verifier.TransactRequest) (*verifier.TransactResult, error)
}

// DirectPoolClient is a LedgerClient backed by an in-process Pool, used
// when the relay and verifier run in the same binary (e.g. local
// development, or a deployment that hasn't split them across processes
// yet).
type DirectPoolClient struct {
	Pool *verifier.Pool
}

func (c *DirectPoolClient) Submit(ctx context.Context, req *verifier.TransactRequest) (*verifier.TransactResult, error) {
	return c.Pool.Transact(ctx, req)
}

// isTransient reports which submission errors are retried with backoff:
// only verifier.ErrSerializationError (a store failure inside Transact).
// Anything else (a failed check, a malformed request) is permanent; no
// rate-limit or blockhash-expiry error kinds exist at this seam.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, verifier.ErrSerializationError):
		return true
	default:
		return false
	}
}

// Relay is one relay instance: a ledger client to submit through and,
// optionally, a fee-payer hot wallet for withdrawals.
type Relay struct {
	client    LedgerClient
	hotWallet ed25519.PrivateKey
	backoff   backoff.BackOff
}

// Config configures a Relay.
type Config struct {
	Client LedgerClient
	// HotWalletSeed derives the fee-payer signing key; nil disables
	// withdrawal submission (deposits still work).
	HotWalletSeed []byte
	MaxElapsed    time.Duration
}

// New builds a Relay. A zero MaxElapsed selects a 30-second retry budget.
func New(cfg Config) *Relay {
	maxElapsed := cfg.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	var hotWallet ed25519.PrivateKey
	if len(cfg.HotWalletSeed) > 0 {
		hotWallet = ed25519.NewKeyFromSeed(deriveSeed32(cfg.HotWalletSeed))
	}

	return &Relay{client: cfg.Client, hotWallet: hotWallet, backoff: b}
}

func deriveSeed32(seed []byte) []byte {
	if len(seed) == ed25519.SeedSize {
		return seed
	}
	out := make([]byte, ed25519.SeedSize)
	copy(out, seed)
	return out
}

// DepositTransaction is the wire shape a client signs and submits as a
// deposit's "signedTransaction" hex blob, JSON-encoded. It carries exactly
// the fields Transact needs; the relay forwards them unmodified. It has no
// signature field of its own.
type DepositTransaction struct {
	Proof             *groth16verify.Proof `json:"proof"`
	Public            verifier.PublicInputs `json:"public"`
	Envelope          extdata.Envelope      `json:"envelope"`
	Signer            address.Address       `json:"signer"`
	CommitmentMarkers [2]address.Address    `json:"commitmentMarkers"`
	NullifierMarkers  [2]address.Address    `json:"nullifierMarkers"`
}

// SubmitDeposit decodes the signed transaction (the JSON encoding of a
// DepositTransaction; the HTTP layer has already removed the hex) and
// forwards it to the ledger unmodified, per §4.7: the relay never alters a
// deposit.
func (r *Relay) SubmitDeposit(signedTransaction []byte) (string, error) {
	var tx DepositTransaction
	if err := json.Unmarshal(signedTransaction, &tx); err != nil {
		return "", fmt.Errorf("relay: malformed deposit transaction: %w", err)
	}
	req := &verifier.TransactRequest{
		Proof:             tx.Proof,
		Public:            tx.Public,
		Envelope:          tx.Envelope,
		Signer:            tx.Signer,
		Recipient:         address.Zero,
		CommitmentMarkers: tx.CommitmentMarkers,
		NullifierMarkers:  tx.NullifierMarkers,
	}
	return r.submitWithRetry(req)
}

// SubmitWithdraw builds a TransactRequest from the client-supplied proof,
// public inputs, and envelope fields, pays the network fee from the
// relay's hot wallet, and submits. The lookup table field is accepted for
// wire compatibility with the real chain's address-lookup-table
// transaction format but does not affect Transact's semantics here.
func (r *Relay) SubmitWithdraw(req indexer.WithdrawRequest) (string, error) {
	if r.hotWallet == nil {
		return "", ErrNoHotWallet
	}

	proofBytes, err := hex.DecodeString(req.SerializedProof)
	if err != nil {
		return "", fmt.Errorf("relay: decode proof: %w", err)
	}
	proof, err := groth16verify.DecodeProof(proofBytes)
	if err != nil {
		return "", fmt.Errorf("relay: decode proof: %w", err)
	}

	public, err := decodePublicInputs(req)
	if err != nil {
		return "", err
	}

	signer, err := decodeAddress(req.Signer)
	if err != nil {
		return "", fmt.Errorf("relay: decode signer: %w", err)
	}
	recipient, err := decodeAddress(req.Recipient)
	if err != nil {
		return "", fmt.Errorf("relay: decode recipient: %w", err)
	}
	feeRecipient, err := decodeAddress(req.FeeRecipient)
	if err != nil {
		return "", fmt.Errorf("relay: decode fee recipient: %w", err)
	}
	var commitmentMarkers, nullifierMarkers [2]address.Address
	for k := 0; k < 2; k++ {
		if commitmentMarkers[k], err = decodeAddress(req.CommitmentMarkers[k]); err != nil {
			return "", fmt.Errorf("relay: decode commitment marker %d: %w", k, err)
		}
		if nullifierMarkers[k], err = decodeAddress(req.NullifierMarkers[k]); err != nil {
			return "", fmt.Errorf("relay: decode nullifier marker %d: %w", k, err)
		}
	}

	out1, err := hex.DecodeString(req.EncryptedOutput1)
	if err != nil {
		return "", fmt.Errorf("relay: decode encrypted output 1: %w", err)
	}
	out2, err := hex.DecodeString(req.EncryptedOutput2)
	if err != nil {
		return "", fmt.Errorf("relay: decode encrypted output 2: %w", err)
	}

	env := extdata.Envelope{
		Recipient:        recipient,
		ExtAmount:        req.ExtAmount,
		Fee:              req.Fee,
		FeeRecipient:     feeRecipient,
		Mint:             public.Mint,
		EncryptedOutput1: out1,
		EncryptedOutput2: out2,
	}

	// Sign the envelope hash as the fee-payer authorization for this
	// submission. The proof's own extDataHash public input is what
	// Transact actually checks; this signature is the network-level
	// authorization that the relay, not the client, is paying to land it.
	envHash, err := env.Hash()
	if err != nil {
		return "", fmt.Errorf("relay: hash envelope: %w", err)
	}
	envBytes := envHash.EncodeBE()
	sig := ed25519.Sign(r.hotWallet, envBytes[:])

	transactReq := &verifier.TransactRequest{
		Proof:             proof,
		Public:            public,
		Envelope:          env,
		Signer:            signer,
		Recipient:         recipient,
		CommitmentMarkers: commitmentMarkers,
		NullifierMarkers:  nullifierMarkers,
	}

	result, err := r.submitWithRetryResult(transactReq)
	if err != nil {
		return "", err
	}
	return signatureFromResult(sig, result), nil
}

func decodeAddress(s string) (address.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return address.Address{}, err
	}
	return address.FromBytes(b)
}

func decodeFieldHex(s string) (field.Element, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return field.Element{}, err
	}
	var arr [field.Size]byte
	if len(b) != field.Size {
		return field.Element{}, fmt.Errorf("relay: expected %d bytes, got %d", field.Size, len(b))
	}
	copy(arr[:], b)
	return field.DecodeBE(arr)
}

func decodePublicInputs(req indexer.WithdrawRequest) (verifier.PublicInputs, error) {
	var pi verifier.PublicInputs
	var err error
	if pi.Root, err = decodeFieldHex(req.Root); err != nil {
		return pi, fmt.Errorf("relay: decode root: %w", err)
	}
	if pi.PublicAmount, err = decodeFieldHex(req.PublicAmount); err != nil {
		return pi, fmt.Errorf("relay: decode publicAmount: %w", err)
	}
	if pi.ExtDataHash, err = decodeFieldHex(req.ExtDataHash); err != nil {
		return pi, fmt.Errorf("relay: decode extDataHash: %w", err)
	}
	for k := 0; k < 2; k++ {
		if pi.InputNullifier[k], err = decodeFieldHex(req.InputNullifier[k]); err != nil {
			return pi, fmt.Errorf("relay: decode inputNullifier %d: %w", k, err)
		}
		if pi.OutputCommitment[k], err = decodeFieldHex(req.OutputCommitment[k]); err != nil {
			return pi, fmt.Errorf("relay: decode outputCommitment %d: %w", k, err)
		}
	}
	if pi.Mint, err = decodeFieldHex(req.Mint); err != nil {
		return pi, fmt.Errorf("relay: decode mint: %w", err)
	}
	return pi, nil
}

func (r *Relay) submitWithRetry(req *verifier.TransactRequest) (string, error) {
	result, err := r.submitWithRetryResult(req)
	if err != nil {
		return "", err
	}
	rootBytes := result.NewRoot.EncodeBE()
	return hex.EncodeToString(rootBytes[:]), nil
}

func (r *Relay) submitWithRetryResult(req *verifier.TransactRequest) (*verifier.TransactResult, error) {
	var result *verifier.TransactResult
	operation := func() error {
		res, err := r.client.Submit(context.Background(), req)
		if err != nil {
			if isTransient(err) {
				logrus.WithError(err).Warn("relay: transient submission error, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	if err := backoff.Retry(operation, r.backoff); err != nil {
		return nil, err
	}
	return result, nil
}

func signatureFromResult(sig []byte, result *verifier.TransactResult) string {
	rootBytes := result.NewRoot.EncodeBE()
	return hex.EncodeToString(sig) + ":" + hex.EncodeToString(rootBytes[:])
}
