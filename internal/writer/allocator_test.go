package writer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSequential(t *testing.T) {
	a := NewAllocator(64)

	addr1, err := a.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, uint64(64), addr1)

	addr2, err := a.Allocate(50)
	require.NoError(t, err)
	require.Equal(t, uint64(164), addr2)

	require.Equal(t, uint64(214), a.EndOfFile())
}

func TestAllocateZeroFails(t *testing.T) {
	a := NewAllocator(0)
	_, err := a.Allocate(0)
	require.Error(t, err)
}

func TestIsAllocated(t *testing.T) {
	a := NewAllocator(0)
	_, err := a.Allocate(10)
	require.NoError(t, err)

	require.True(t, a.IsAllocated(0, 1))
	require.True(t, a.IsAllocated(9, 5))
	require.False(t, a.IsAllocated(10, 5))
}

func TestValidateNoOverlaps(t *testing.T) {
	a := NewAllocator(0)
	for i := 0; i < 5; i++ {
		_, err := a.Allocate(16)
		require.NoError(t, err)
	}
	require.NoError(t, a.ValidateNoOverlaps())

	// Force a bogus overlapping block.
	a.blocks = append(a.blocks, AllocatedBlock{Offset: 8, Size: 16})
	require.Error(t, a.ValidateNoOverlaps())
}

func TestBlocksSortedCopy(t *testing.T) {
	a := NewAllocator(0)
	_, _ = a.Allocate(4)
	_, _ = a.Allocate(4)

	blocks := a.Blocks()
	require.Len(t, blocks, 2)
	require.Less(t, blocks[0].Offset, blocks[1].Offset)

	blocks[0].Offset = 999
	require.NotEqual(t, uint64(999), a.Blocks()[0].Offset)
}
