package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_NeverEqualsPlaintext(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter22hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22hunter22", hash)
	assert.NotEmpty(t, hash)
}

func TestHashPassword_SaltedHashesDiffer(t *testing.T) {
	t.Parallel()

	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCompareHashAndPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct-password")
	require.NoError(t, err)

	assert.True(t, CompareHashAndPassword(hash, "correct-password"))
	assert.False(t, CompareHashAndPassword(hash, "wrong-password"))
	assert.False(t, CompareHashAndPassword("not-a-bcrypt-hash", "correct-password"))
}
