package kinetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_EntityIndex_CreateReturnsDistinctHandles(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()

	// Act
	e1, err1 := idx.Create(0)
	e2, err2 := idx.Create(0)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NotEqual(t, e1, e2)
	assert.True(t, idx.IsAlive(e1))
	assert.True(t, idx.IsAlive(e2))
}

func Test_EntityIndex_GenerationalSafety(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()
	e1, err := idx.Create(0)
	assert.NoError(t, err)

	// Act
	idx.Destroy(e1, 0)
	e2, err := idx.Create(0)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, e1.Index(), e2.Index())
	assert.NotEqual(t, e1, e2)
	assert.False(t, idx.IsAlive(e1))
	assert.True(t, idx.IsAlive(e2))
}

func Test_EntityIndex_DestroyIsNoOpOnStaleHandle(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()
	e, _ := idx.Create(0)
	idx.Destroy(e, 0)

	// Act
	assert.NotPanics(t, func() {
		idx.Destroy(e, 0)
	})

	// Assert
	assert.False(t, idx.IsAlive(e))
}

func Test_EntityIndex_ComponentMaskTracksSetAndClear(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()
	e, _ := idx.Create(0)

	// Act
	idx.SetComponentBit(e, ComponentID(3), 1)
	h, ok := idx.Header(e)

	// Assert
	assert.True(t, ok)
	assert.True(t, h.ComponentMask.Has(ComponentID(3)))

	// Act: clear
	idx.ClearComponentBit(e, ComponentID(3), 2)
	h, _ = idx.Header(e)

	// Assert: mask bit cleared, but chunk signature (conservative) still set
	assert.False(t, h.ComponentMask.Has(ComponentID(3)))
	c, _ := idx.HeaderTable().Get(0)
	assert.True(t, c.Signature.Has(ComponentID(3)))
}

func Test_EntityIndex_ChunkPopulationTracksLiveEntities(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()
	e1, _ := idx.Create(0)
	_, _ = idx.Create(0)

	// Act
	idx.Destroy(e1, 0)

	// Assert
	c, ok := idx.HeaderTable().Get(0)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Population)
}

func Test_EntityIndex_AuthorityBitIndependentOfComponentMask(t *testing.T) {
	// Arrange
	idx := NewEntityIndex()
	e, _ := idx.Create(0)

	// Act
	idx.SetAuthorityBit(e, ComponentID(9), true, 1)
	h, _ := idx.Header(e)

	// Assert
	assert.True(t, h.AuthorityMask.Has(ComponentID(9)))
	assert.False(t, h.ComponentMask.Has(ComponentID(9)))
}
