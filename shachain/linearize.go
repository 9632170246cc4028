package shachain

import (
	"encoding/binary"
	"fmt"
)

// Linearize serializes the store to the fixed spec.md §4.3/§6 layout:
// 8-byte min_index, 4-byte num_valid, then 65 slots of (8-byte index,
// 32-byte hash), integers little-endian, unused slots zero-filled.
// The result is always exactly LinearizedSize bytes.
func (s *Store) Linearize() []byte {
	buf := make([]byte, LinearizedSize)

	binary.LittleEndian.PutUint64(buf[0:8], s.minIndex)
	binary.LittleEndian.PutUint32(buf[8:12], s.numValid)

	off := 12
	for i := 0; i < towerHeight; i++ {
		var n node
		if i < len(s.known) {
			n = s.known[i]
		}
		binary.LittleEndian.PutUint64(buf[off:off+8], n.index)
		copy(buf[off+8:off+40], n.hash[:])
		off += 40
	}

	return buf
}

// Delinearize reconstructs a Store from bytes produced by Linearize.
func Delinearize(b []byte) (*Store, error) {
	if len(b) != LinearizedSize {
		return nil, fmt.Errorf("shachain: linearized blob must be %d bytes, got %d",
			LinearizedSize, len(b))
	}

	s := &Store{}
	s.minIndex = binary.LittleEndian.Uint64(b[0:8])
	s.numValid = binary.LittleEndian.Uint32(b[8:12])
	if s.numValid > towerHeight {
		return nil, fmt.Errorf("shachain: num_valid %d exceeds tower height %d",
			s.numValid, towerHeight)
	}
	s.haveMin = s.numValid > 0

	off := 12
	for i := 0; i < towerHeight; i++ {
		var n node
		n.index = binary.LittleEndian.Uint64(b[off : off+8])
		copy(n.hash[:], b[off+8:off+40])
		s.known[i] = n
		off += 40
	}

	return s, nil
}
