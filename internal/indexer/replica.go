// Package indexer mirrors the verifier's commitment accumulator off-chain
// so clients never have to scan ledger history themselves for roots,
// merkle proofs, or the encrypted outputs addressed to them. It ingests
// commitment markers in index order, either via a push webhook or a
// periodic reconciliation poll, and serves the read side over HTTP.
package indexer

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/pkg/field"
)

// ErrFutureIndex is returned by Ingest when the given index is ahead of the
// replica's current size: the caller skipped an index, which on the
// canonical chain never happens and signals a reconciliation bug upstream.
var ErrFutureIndex = errors.New("indexer: commitment index is ahead of replica size")

// entry is one ingested commitment marker, kept in insertion order.
type entry struct {
	commitment      field.Element
	index           uint64
	encryptedOutput []byte
}

// CommitmentIndex is the single-writer, many-reader commitment tree
// replica described in spec.md §4.6.
type CommitmentIndex struct {
	mu sync.RWMutex

	tree    *accumulator.Tree
	leaves  []field.Element
	entries []entry

	byCommitment map[field.Element]uint64
	byDigest     map[[blake2b.Size256]byte]struct{}
}

// NewCommitmentIndex creates an empty replica with the given tree height
// and root-ring capacity, which must match the verifier's own pool.
func NewCommitmentIndex(height, ringCap int) (*CommitmentIndex, error) {
	tree, err := accumulator.New(accumulator.NewInMemoryStore(), height, ringCap)
	if err != nil {
		return nil, err
	}
	return &CommitmentIndex{
		tree:         tree,
		byCommitment: make(map[field.Element]uint64),
		byDigest:     make(map[[blake2b.Size256]byte]struct{}),
	}, nil
}

// Ingest applies one commitment marker. It is idempotent under exact
// replay, rejects indices ahead of the current size, and on a mismatched
// replay at an already-seen index overwrites and logs rather than failing,
// since the verifier itself guarantees that case never arises on the
// canonical chain.
func (c *CommitmentIndex) Ingest(commitment field.Element, index uint64, encryptedOutput []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(len(c.entries))
	switch {
	case index == size:
		if _, err := c.tree.Insert(commitment); err != nil {
			return err
		}
		c.leaves = append(c.leaves, commitment)
		c.entries = append(c.entries, entry{commitment: commitment, index: index, encryptedOutput: encryptedOutput})
		c.byCommitment[commitment] = index
		c.byDigest[blake2b.Sum256(encryptedOutput)] = struct{}{}
		return nil
	case index < size:
		existing := c.entries[index]
		if field.Equal(existing.commitment, commitment) && bytesEqual(existing.encryptedOutput, encryptedOutput) {
			return nil
		}
		logrus.WithField("index", index).Warn("indexer: replay differs from the stored marker at this index, overwriting")
		if c.byCommitment[existing.commitment] == index {
			delete(c.byCommitment, existing.commitment)
		}
		c.leaves[index] = commitment
		c.entries[index] = entry{commitment: commitment, index: index, encryptedOutput: encryptedOutput}
		c.byCommitment[commitment] = index
		c.byDigest[blake2b.Sum256(encryptedOutput)] = struct{}{}
		// The accumulator keeps only its right frontier, so a replaced leaf
		// means rebuilding it from the full leaf list.
		c.tree.Init()
		for _, l := range c.leaves {
			if _, err := c.tree.Insert(l); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrFutureIndex
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Root returns the replica's current root.
func (c *CommitmentIndex) Root() field.Element {
	return c.tree.Root()
}

// NextIndex returns the replica's current size.
func (c *CommitmentIndex) NextIndex() uint64 {
	return c.tree.NextIndex()
}

// Len returns the number of entries ingested so far.
func (c *CommitmentIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ProofByIndex returns the authentication path for leaf i. Per the
// ambiguity spec.md §9 flags for an unknown index, it returns the
// conventional all-zero path rather than an error, so clients probing
// ahead of the frontier get a well-formed (if meaningless) response
// instead of having to special-case a 404 on this endpoint alone.
func (c *CommitmentIndex) ProofByIndex(i uint64) *accumulator.Proof {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.tree.Proof(c.leaves, i)
	if err != nil {
		return zeroProof(c.tree.Height())
	}
	return p
}

func zeroProof(height int) *accumulator.Proof {
	return &accumulator.Proof{
		PathElements: make([]field.Element, height),
		PathIndices:  make([]bool, height),
	}
}

// ProofByCommitment looks up a commitment's tree position and returns its
// authentication path, or ok=false if the commitment has never been
// ingested.
func (c *CommitmentIndex) ProofByCommitment(commitment field.Element) (*accumulator.Proof, bool) {
	c.mu.RLock()
	idx, known := c.byCommitment[commitment]
	c.mu.RUnlock()
	if !known {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.tree.Proof(c.leaves, idx)
	if err != nil {
		return nil, false
	}
	return p, true
}

// EncryptedOutputs returns the [start, end) slice of encrypted outputs in
// insertion order, clamped to the current size, along with the total count
// and whether more remain past end.
func (c *CommitmentIndex) EncryptedOutputs(start, end int) (items [][]byte, total int, hasMore bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total = len(c.entries)
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}
	items = make([][]byte, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, c.entries[i].encryptedOutput)
	}
	return items, total, end < total
}

// HasEncryptedOutput reports whether blob matches a previously ingested
// encrypted output, by digest rather than linear scan.
func (c *CommitmentIndex) HasEncryptedOutput(blob []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byDigest[blake2b.Sum256(blob)]
	return ok
}
