package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Mask256_SetAndHas(t *testing.T) {
	// Arrange
	var m Mask256

	// Act
	m.Set(ComponentID(5))
	m.Set(ComponentID(200))

	// Assert
	assert.True(t, m.Has(ComponentID(5)))
	assert.True(t, m.Has(ComponentID(200)))
	assert.False(t, m.Has(ComponentID(6)))
}

func Test_Mask256_ClearDoesNotAffectOtherBits(t *testing.T) {
	// Arrange
	var m Mask256
	m.Set(ComponentID(1))
	m.Set(ComponentID(2))

	// Act
	m.Clear(ComponentID(1))

	// Assert
	assert.False(t, m.Has(ComponentID(1)))
	assert.True(t, m.Has(ComponentID(2)))
}

func Test_Mask256_HasAllAndHasAny(t *testing.T) {
	// Arrange
	var a, b Mask256
	a.Set(1)
	a.Set(2)
	b.Set(1)

	// Act & Assert
	assert.True(t, a.HasAll(b))
	assert.False(t, b.HasAll(a))
	assert.True(t, a.HasAny(b))
}

func Test_Mask256_Matches(t *testing.T) {
	// Arrange
	var target, include, exclude Mask256
	target.Set(1)
	target.Set(2)
	include.Set(1)
	exclude.Set(3)

	// Act & Assert
	assert.True(t, target.Matches(include, exclude))

	exclude.Set(2)
	assert.False(t, target.Matches(include, exclude))
}

func Test_Mask256_UnionIsConservative(t *testing.T) {
	// Arrange
	var a, b Mask256
	a.Set(10)
	b.Set(20)

	// Act
	u := a.Union(b)

	// Assert
	assert.True(t, u.Has(10))
	assert.True(t, u.Has(20))
}
