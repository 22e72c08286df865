package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type position struct {
	X, Y float32
}

func Test_Table_AtCreatesChunkLazily(t *testing.T) {
	// Arrange
	table := NewTable[position]()

	// Act
	assert.False(t, table.ExistsFor(0))
	c, err := table.At(0)

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, c)
	assert.True(t, table.ExistsFor(0))
	assert.Len(t, c.Data, Capacity)
}

func Test_Table_IndexAddressing(t *testing.T) {
	// Arrange & Act & Assert
	assert.Equal(t, uint32(0), IndexOf(0))
	assert.Equal(t, uint32(0), IndexOf(Capacity-1))
	assert.Equal(t, uint32(1), IndexOf(Capacity))
	assert.Equal(t, uint32(0), LocalOffset(0))
	assert.Equal(t, uint32(Capacity-1), LocalOffset(Capacity-1))
	assert.Equal(t, uint32(0), LocalOffset(Capacity))
}

func Test_Table_WritesArePersistedWithinChunk(t *testing.T) {
	// Arrange
	table := NewTable[position]()
	c, err := table.At(0)
	assert.NoError(t, err)

	// Act
	c.Data[42] = position{X: 1, Y: 2}
	again, _ := table.At(0)

	// Assert
	assert.Equal(t, position{X: 1, Y: 2}, again.Data[42])
}

func Test_Table_SortedIndicesAreAscending(t *testing.T) {
	// Arrange
	table := NewTable[position]()
	_, _ = table.At(5)
	_, _ = table.At(1)
	_, _ = table.At(3)

	// Act
	indices := table.SortedIndices()

	// Assert
	assert.Equal(t, []uint32{1, 3, 5}, indices)
}

func Test_Table_ReleaseUnmapsAllChunks(t *testing.T) {
	// Arrange
	table := NewTable[position]()
	_, _ = table.At(0)
	_, _ = table.At(1)

	// Act
	err := table.Release()

	// Assert
	assert.NoError(t, err)
	assert.False(t, table.ExistsFor(0))
}

func Test_Table_ResetZeroesDataAndMetadata(t *testing.T) {
	// Arrange
	table := NewTable[position]()
	c, _ := table.At(0)
	c.Data[0] = position{X: 9, Y: 9}
	c.ChangeVersion = 7
	c.Population = 3
	c.Signature.Set(ComponentID(2))

	// Act
	table.Reset()

	// Assert
	reset, _ := table.Get(0)
	assert.Equal(t, position{}, reset.Data[0])
	assert.Equal(t, uint64(0), reset.ChangeVersion)
	assert.Equal(t, 0, reset.Population)
	assert.True(t, reset.Signature.IsZero())
}
