package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundscore/internal/domain"
)

type sample struct {
	UserID string `json:"user_id" validate:"required"`
	Kind   string `json:"kind" validate:"omitempty,oneof=live demo"`
}

func TestStructMapsRequiredToMissingField(t *testing.T) {
	err := Struct(sample{})
	require.ErrorIs(t, err, domain.ErrMissingField)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "user_id", de.Field)
}

func TestStructMapsOtherTagsToInvalidField(t *testing.T) {
	err := Struct(sample{UserID: "u1", Kind: "gold"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "kind", de.Field)
	assert.Equal(t, "gold", de.Current)
}

func TestStructAcceptsValid(t *testing.T) {
	assert.NoError(t, Struct(sample{UserID: "u1", Kind: "demo"}))
}
