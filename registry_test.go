package kinetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type posComponent struct{ X, Y float32 }
type velComponent struct{ X, Y float32 }

func Test_Registry_RegisterAssignsSequentialIDs(t *testing.T) {
	// Arrange
	r := NewRegistry()

	// Act
	posID, err1 := RegisterComponentDefault[posComponent](r, StorageInlineValue)
	velID, err2 := RegisterComponentDefault[velComponent](r, StorageInlineValue)

	// Assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, ComponentID(0), posID)
	assert.Equal(t, ComponentID(1), velID)
}

func Test_Registry_IdempotentReRegistration(t *testing.T) {
	// Arrange
	r := NewRegistry()
	first, err := RegisterComponentDefault[posComponent](r, StorageInlineValue)
	assert.NoError(t, err)

	// Act
	second, err := RegisterComponentDefault[posComponent](r, StorageInlineValue)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.Count())
}

func Test_Registry_ConflictingReRegistrationFails(t *testing.T) {
	// Arrange
	r := NewRegistry()
	_, err := RegisterComponentDefault[posComponent](r, StorageInlineValue)
	assert.NoError(t, err)

	// Act
	_, err = RegisterComponent[posComponent](r, StorageInlineValue, PolicySnapshotable)

	// Assert
	assert.Error(t, err)
	assert.True(t, hasCode(err, CodeAlreadyRegistered))
}

func Test_Registry_ExhaustsAt256Types(t *testing.T) {
	// Arrange
	r := NewRegistry()
	for i := 0; i < MaxComponentTypes; i++ {
		r.descriptors = append(r.descriptors, TypeDescriptor{ID: ComponentID(i)})
	}

	// Act
	_, err := RegisterComponentDefault[posComponent](r, StorageInlineValue)

	// Assert
	assert.Error(t, err)
	assert.True(t, hasCode(err, CodeTypeIDExhausted))
}

func Test_Registry_DescriptorByName(t *testing.T) {
	// Arrange
	r := NewRegistry()
	id, err := RegisterComponentDefault[posComponent](r, StorageInlineValue)
	assert.NoError(t, err)
	d, _ := r.Descriptor(id)

	// Act
	byName, ok := r.DescriptorByName(d.Name)

	// Assert
	assert.True(t, ok)
	assert.Equal(t, id, byName.ID)
}
