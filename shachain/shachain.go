// Package shachain implements the compressed revocation-preimage store
// described in spec.md §3/§4.3: a tower of up to 65 known (index, hash)
// pairs from which any preimage inserted so far can be re-derived, letting
// a channel retain up to 2^48 past revocation secrets in a constant-size
// structure. The scheme and its "clear low bits and rehash" derivation
// rule mirror the hash-tree idea the teacher's elkrem package serializes
// in elkrem/serdes.go, generalized here to the 64-bit index space and
// fixed 2612-byte linearization spec.md §4.3/§6 specify.
package shachain

import (
	"crypto/sha256"
	"fmt"
)

const (
	// towerHeight is the number of distinct "heights" an index can sit
	// at in the derivation tree: one per possible count of trailing
	// zero bits in a 64-bit index (0 through 64 inclusive).
	towerHeight = 65

	// LinearizedSize is the fixed on-disk size of a linearized Store:
	// 8-byte min_index, 4-byte num_valid, and 65 slots of
	// (8-byte index, 32-byte hash).
	LinearizedSize = 8 + 4 + towerHeight*(8+32)
)

// maxIndex is the top of the 64-bit complementary index space.
const maxIndex = ^uint64(0)

// RevocationIndex returns the shachain storage index for the Nth
// revoked commitment (commit_num N, zero-based), per spec.md §4.4's
// "index 0xFFFF…FF - (commit_num)".
func RevocationIndex(commitNum uint64) uint64 {
	return maxIndex - commitNum
}

// ErrIndexNotDescending is returned when add_hash is called with an index
// that isn't strictly smaller than every previously stored index.
var ErrIndexNotDescending = fmt.Errorf("shachain: index does not descend from prior insertions")

// ErrHashMismatch is returned when a newly inserted hash fails to
// re-derive a previously accepted hash at a derivable index — the two
// preimages are inconsistent with a single hash-tree seed.
var ErrHashMismatch = fmt.Errorf("shachain: hash does not derive previously stored value at same index")

type node struct {
	index uint64
	hash  [32]byte
}

// Store is the receiver-side shachain: it accepts preimages in strictly
// descending index order and can answer "what was the preimage at index
// i" for any i it has ever accepted, using at most towerHeight stored
// hashes regardless of how many preimages were inserted.
type Store struct {
	haveMin  bool
	minIndex uint64
	known    [towerHeight]node
	numValid uint32
}

// NewStore returns an empty shachain store.
func NewStore() *Store {
	return &Store{}
}

// trailingZeroBits returns the number of trailing zero bits of index, in
// [0, 64]. An index of 0 has all 64 bits zero.
func trailingZeroBits(index uint64) int {
	if index == 0 {
		return 64
	}
	n := 0
	for index&1 == 0 {
		index >>= 1
		n++
	}
	return n
}

// derivable reports whether a hash known at fromIndex can derive the
// hash at toIndex: toIndex must agree with fromIndex on every bit at or
// above fromIndex's trailing-zero count, i.e. fromIndex's low "free"
// bits are the only ones where toIndex may differ.
func derivable(fromIndex, toIndex uint64) bool {
	b := trailingZeroBits(fromIndex)
	if b == 64 {
		return true
	}
	mask := ^(uint64(1)<<uint(b) - 1)
	return fromIndex&mask == toIndex&mask
}

// derive computes the hash at toIndex given the hash stored at fromIndex,
// by flipping and re-hashing one bit per step from the top of fromIndex's
// free bits down to bit 0, matching toIndex at each step. This is the
// "clearing low bits and re-hashing" rule of spec.md §4.3.
func derive(fromIndex uint64, fromHash [32]byte, toIndex uint64) [32]byte {
	hash := fromHash
	for i := trailingZeroBits(fromIndex) - 1; i >= 0; i-- {
		if toIndex&(uint64(1)<<uint(i)) != 0 {
			flipBit(&hash, i)
			hash = sha256.Sum256(hash[:])
		}
	}
	return hash
}

// flipBit flips bit i (0 = least significant) of a 256-bit hash treated
// as a big-endian byte array.
func flipBit(hash *[32]byte, i int) {
	byteIdx := 31 - i/8
	bitIdx := uint(i % 8)
	hash[byteIdx] ^= 1 << bitIdx
}

// AddHash inserts the preimage known to correspond to index. Indices
// must be inserted in strictly descending order (spec.md §4.3). Any
// previously stored entry now derivable from the new one is dropped,
// keeping the tower to at most towerHeight live entries; a hash that
// fails to re-derive an existing entry is rejected and the store is left
// unmodified.
func (s *Store) AddHash(index uint64, hash [32]byte) error {
	if s.haveMin && index >= s.minIndex {
		return ErrIndexNotDescending
	}

	kept := make([]node, 0, towerHeight)
	for i := uint32(0); i < s.numValid; i++ {
		old := s.known[i]
		if derivable(index, old.index) {
			if derive(index, hash, old.index) != old.hash {
				return ErrHashMismatch
			}
			// Redundant: old is now re-derivable from the new
			// entry, so it doesn't need to be kept.
			continue
		}
		kept = append(kept, old)
	}

	kept = append(kept, node{index: index, hash: hash})
	copy(s.known[:], kept)
	s.numValid = uint32(len(kept))
	s.minIndex = index
	s.haveMin = true
	return nil
}

// ErrNotDerivable is returned by LookupHash when no stored entry can
// derive the requested index (the index was never inserted, or is
// numerically smaller than every stored index and thus later, not
// earlier, than anything known).
var ErrNotDerivable = fmt.Errorf("shachain: index not derivable from known entries")

// LookupHash returns the preimage at index, deriving it from the
// smallest stored index that is an ancestor of it.
func (s *Store) LookupHash(index uint64) ([32]byte, error) {
	for i := uint32(0); i < s.numValid; i++ {
		k := s.known[i]
		if k.index == index {
			return k.hash, nil
		}
		if derivable(k.index, index) {
			return derive(k.index, k.hash, index), nil
		}
	}
	return [32]byte{}, ErrNotDerivable
}

// NumValid returns the number of live tower entries currently stored.
func (s *Store) NumValid() uint32 {
	return s.numValid
}

// MinIndex returns the smallest (most recently inserted) index stored,
// and whether any index has been inserted at all.
func (s *Store) MinIndex() (uint64, bool) {
	return s.minIndex, s.haveMin
}
