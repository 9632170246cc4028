package shachain

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedHash(label string) [32]byte {
	return sha256.Sum256([]byte(label))
}

func TestAddHashRejectsAscending(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddHash(100, seedHash("a")))
	err := s.AddHash(150, seedHash("b"))
	require.ErrorIs(t, err, ErrIndexNotDescending)

	err = s.AddHash(100, seedHash("c"))
	require.ErrorIs(t, err, ErrIndexNotDescending)
}

func TestAddHashRejectsDuplicateIndex(t *testing.T) {
	s := NewStore()
	h := seedHash("preimage")
	require.NoError(t, s.AddHash(42, h))

	err := s.AddHash(42, h)
	require.Error(t, err)
}

func TestDeriveFromTowerCompresses(t *testing.T) {
	s := NewStore()

	// Index with all low bits zero can derive every index below it that
	// shares its high bits, so inserting it should let us look up any
	// such derived index without it having been separately stored.
	root := seedHash("root")
	require.NoError(t, s.AddHash(0, root))
	require.Equal(t, uint32(1), s.NumValid())

	got, err := s.LookupHash(0)
	require.NoError(t, err)
	require.Equal(t, root, got)

	// Any index is derivable from 0 since trailingZeroBits(0) == 64.
	derived, err := s.LookupHash(12345)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, derived)
}

func TestLinearizeRoundTrip(t *testing.T) {
	s := NewStore()
	for n := uint64(0); n < 5; n++ {
		idx := RevocationIndex(n)
		require.NoError(t, s.AddHash(idx, seedHash(fmt.Sprintf("secret-%d", n))))
	}

	blob := s.Linearize()
	require.Len(t, blob, LinearizedSize)

	restored, err := Delinearize(blob)
	require.NoError(t, err)
	require.Equal(t, s.minIndex, restored.minIndex)
	require.Equal(t, s.numValid, restored.numValid)
	require.Equal(t, s.known, restored.known)

	reblob := restored.Linearize()
	require.Equal(t, blob, reblob)
}

func TestDelinearizeRejectsWrongSize(t *testing.T) {
	_, err := Delinearize(make([]byte, 100))
	require.Error(t, err)
}

func TestRevocationIndexComplement(t *testing.T) {
	require.Equal(t, maxIndex, RevocationIndex(0))
	require.Equal(t, maxIndex-1, RevocationIndex(1))
}
