package accounts

import (
	"encoding/binary"
	"errors"

	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

var ErrShortBuffer = errors.New("accounts: buffer too short for layout")

// TreeAccount is the §6 tree account layout: authority (32) | next_index
// (u64) | subtrees (H*32) | root (32) | root_ring (N*32) | root_index (u64)
// | deposit_cap (u64) | bump (1).
type TreeAccount struct {
	Authority  address.Address
	NextIndex  uint64
	Subtrees   []field.Element
	Root       field.Element
	RootRing   []field.Element
	RootIndex  uint64
	DepositCap uint64
	Bump       byte
}

// treeAccountSize returns the encoded byte length for a tree account with height h and
// ring capacity n.
func treeAccountSize(h, n int) int {
	return address.Size + 8 + h*field.Size + field.Size + n*field.Size + 8 + 8 + 1
}

// Encode serializes t using its own Subtrees/RootRing lengths as h and n.
func (t *TreeAccount) Encode() []byte {
	h := len(t.Subtrees)
	n := len(t.RootRing)
	buf := make([]byte, treeAccountSize(h, n))
	off := 0
	copy(buf[off:], t.Authority[:])
	off += address.Size
	binary.LittleEndian.PutUint64(buf[off:], t.NextIndex)
	off += 8
	for _, s := range t.Subtrees {
		le := s.EncodeLE()
		copy(buf[off:], le[:])
		off += field.Size
	}
	rootLE := t.Root.EncodeLE()
	copy(buf[off:], rootLE[:])
	off += field.Size
	for _, r := range t.RootRing {
		le := r.EncodeLE()
		copy(buf[off:], le[:])
		off += field.Size
	}
	binary.LittleEndian.PutUint64(buf[off:], t.RootIndex)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.DepositCap)
	off += 8
	buf[off] = t.Bump
	return buf
}

// DecodeTreeAccount parses buf into a TreeAccount given the fixed height h
// and ring capacity n the account was created with.
func DecodeTreeAccount(buf []byte, h, n int) (*TreeAccount, error) {
	if len(buf) < treeAccountSize(h, n) {
		return nil, ErrShortBuffer
	}
	t := &TreeAccount{Subtrees: make([]field.Element, h), RootRing: make([]field.Element, n)}
	off := 0
	authority, err := address.FromBytes(buf[off : off+address.Size])
	if err != nil {
		return nil, err
	}
	t.Authority = authority
	off += address.Size
	t.NextIndex = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	for i := 0; i < h; i++ {
		var le [field.Size]byte
		copy(le[:], buf[off:off+field.Size])
		e, err := field.DecodeLE(le)
		if err != nil {
			return nil, err
		}
		t.Subtrees[i] = e
		off += field.Size
	}
	{
		var le [field.Size]byte
		copy(le[:], buf[off:off+field.Size])
		root, err := field.DecodeLE(le)
		if err != nil {
			return nil, err
		}
		t.Root = root
		off += field.Size
	}
	for i := 0; i < n; i++ {
		var le [field.Size]byte
		copy(le[:], buf[off:off+field.Size])
		e, err := field.DecodeLE(le)
		if err != nil {
			return nil, err
		}
		t.RootRing[i] = e
		off += field.Size
	}
	t.RootIndex = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.DepositCap = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Bump = buf[off]
	return t, nil
}

// These discriminators mirror the teacher's account-tag convention of a fixed
// 8-byte account-kind discriminator at the front of every serialized
// account, generalized here to two kinds instead of one.
var (
	discriminatorCommitmentMarker = [8]byte{'c', 'm', 'm', 't', 'm', 'r', 'k', '1'}
	discriminatorNullifierMarker  = [8]byte{'n', 'u', 'l', 'l', 'm', 'r', 'k', '1'}
)

// CommitmentMarker is the §6 commitment marker layout: discriminator (8) |
// commitment (32) | encrypted_output length (u32) | encrypted_output (var)
// | index (u64) | bump (1).
type CommitmentMarker struct {
	Commitment      field.Element
	EncryptedOutput []byte
	Index           uint64
	Bump            byte
}

func (m *CommitmentMarker) Encode() []byte {
	buf := make([]byte, 0, 8+field.Size+4+len(m.EncryptedOutput)+8+1)
	buf = append(buf, discriminatorCommitmentMarker[:]...)
	le := m.Commitment.EncodeLE()
	buf = append(buf, le[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(m.EncryptedOutput)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, m.EncryptedOutput...)
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], m.Index)
	buf = append(buf, idxBuf[:]...)
	buf = append(buf, m.Bump)
	return buf
}

func DecodeCommitmentMarker(buf []byte) (*CommitmentMarker, error) {
	if len(buf) < 8+field.Size+4 {
		return nil, ErrShortBuffer
	}
	off := 8
	var le [field.Size]byte
	copy(le[:], buf[off:off+field.Size])
	commitment, err := field.DecodeLE(le)
	if err != nil {
		return nil, err
	}
	off += field.Size
	outLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+outLen+8+1 {
		return nil, ErrShortBuffer
	}
	output := make([]byte, outLen)
	copy(output, buf[off:off+outLen])
	off += outLen
	index := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	bump := buf[off]
	return &CommitmentMarker{Commitment: commitment, EncryptedOutput: output, Index: index, Bump: bump}, nil
}

// NullifierMarker is an existence-only sentinel: discriminator (8) |
// nullifier (32) | bump (1). Its mere presence on the ledger is the fact it
// records; it carries no mutable state.
type NullifierMarker struct {
	Nullifier field.Element
	Bump      byte
}

func (m *NullifierMarker) Encode() []byte {
	buf := make([]byte, 0, 8+field.Size+1)
	buf = append(buf, discriminatorNullifierMarker[:]...)
	le := m.Nullifier.EncodeLE()
	buf = append(buf, le[:]...)
	buf = append(buf, m.Bump)
	return buf
}

func DecodeNullifierMarker(buf []byte) (*NullifierMarker, error) {
	if len(buf) < 8+field.Size+1 {
		return nil, ErrShortBuffer
	}
	off := 8
	var le [field.Size]byte
	copy(le[:], buf[off:off+field.Size])
	nullifier, err := field.DecodeLE(le)
	if err != nil {
		return nil, err
	}
	off += field.Size
	return &NullifierMarker{Nullifier: nullifier, Bump: buf[off]}, nil
}

// GlobalConfig layout: authority (32) | deposit_cap (u64) | paused (1) |
// bump (1). Not pinned by §6 to exact offsets the way the tree and marker
// accounts are, so this ordering is this implementation's own choice.
type GlobalConfig struct {
	Authority  address.Address
	DepositCap uint64
	Paused     bool
	Bump       byte
}

func (c *GlobalConfig) Encode() []byte {
	buf := make([]byte, address.Size+8+1+1)
	off := 0
	copy(buf[off:], c.Authority[:])
	off += address.Size
	binary.LittleEndian.PutUint64(buf[off:], c.DepositCap)
	off += 8
	if c.Paused {
		buf[off] = 1
	}
	off++
	buf[off] = c.Bump
	return buf
}

func DecodeGlobalConfig(buf []byte) (*GlobalConfig, error) {
	if len(buf) < address.Size+8+1+1 {
		return nil, ErrShortBuffer
	}
	off := 0
	authority, err := address.FromBytes(buf[off : off+address.Size])
	if err != nil {
		return nil, err
	}
	off += address.Size
	depositCap := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	paused := buf[off] != 0
	off++
	bump := buf[off]
	return &GlobalConfig{Authority: authority, DepositCap: depositCap, Paused: paused, Bump: bump}, nil
}
