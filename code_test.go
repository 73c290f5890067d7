package accounts_test

import (
	"encoding/base64"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateActivationCode(t *testing.T) {
	code, err := accounts.GenerateActivationCode()
	require.NoError(t, err)
	require.NotEmpty(t, code)

	raw, err := base64.RawURLEncoding.DecodeString(code)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestGenerateActivationCodeIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := accounts.GenerateActivationCode()
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code generated")
		seen[code] = true
	}
}

func TestGenerateActivationCodeIsURLSafe(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := accounts.GenerateActivationCode()
		require.NoError(t, err)
		assert.NotContains(t, code, "+")
		assert.NotContains(t, code, "/")
		assert.NotContains(t, code, "=")
	}
}
