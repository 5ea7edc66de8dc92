package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAPIKeyValidator_AcceptsConfiguredKeys(t *testing.T) {
	v := NewStaticAPIKeyValidator([]string{"alpha", "beta"})
	require.Equal(t, 2, v.KeyCount())

	info, err := v.ValidateAPIKey("alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, info.KeyID)
	assert.NotContains(t, info.KeyID, "alpha", "key id never carries the secret")

	other, err := v.ValidateAPIKey("beta")
	require.NoError(t, err)
	assert.NotEqual(t, info.KeyID, other.KeyID)
}

func TestStaticAPIKeyValidator_RejectsUnknownKey(t *testing.T) {
	v := NewStaticAPIKeyValidator([]string{"alpha"})

	_, err := v.ValidateAPIKey("wrong")
	require.Error(t, err)
}

func TestStaticAPIKeyValidator_SkipsEmptyKeys(t *testing.T) {
	v := NewStaticAPIKeyValidator([]string{"", "alpha", ""})
	assert.Equal(t, 1, v.KeyCount())

	_, err := v.ValidateAPIKey("")
	assert.Error(t, err)
}
