package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipher(t *testing.T) {
	c, err := NewTokenCipher("not-32-bytes")
	require.NoError(t, err)

	sealed, err := c.Seal("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "ya29.access-token", sealed)
	assert.True(t, LooksSealed(sealed))

	again, err := c.Seal("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)

	empty, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTokenCipher_WrongKey(t *testing.T) {
	a, err := NewTokenCipher("key-a")
	require.NoError(t, err)
	b, err := NewTokenCipher("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestTokenCipher_OpenOrPlain(t *testing.T) {
	c, err := NewTokenCipher("k")
	require.NoError(t, err)

	assert.Equal(t, "1//legacy-refresh-token", c.OpenOrPlain("1//legacy-refresh-token"))
	assert.Equal(t, "", c.OpenOrPlain(""))

	sealed, err := c.Seal("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.OpenOrPlain(sealed))
}

func TestNewTokenCipher_EmptyKey(t *testing.T) {
	_, err := NewTokenCipher("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
