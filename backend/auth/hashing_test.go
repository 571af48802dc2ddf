package auth_test

import (
	"strings"
	"testing"

	"formbase/backend/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, auth.VerifyPassword(hash, "correct horse battery staple"))
	assert.False(t, auth.VerifyPassword(hash, "incorrect horse"))
	assert.False(t, auth.VerifyPassword(hash, ""))
}

func TestEmptyPasswordRejected(t *testing.T) {
	_, err := auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrEmptyPassword)
}

func TestLongPasswords(t *testing.T) {
	// bcrypt truncates at 72 bytes, so without pre-hashing these two would
	// collide.
	long := strings.Repeat("a", 72) + "suffix one"
	other := strings.Repeat("a", 72) + "suffix two"

	hash, err := auth.HashPassword(long)
	require.NoError(t, err)

	assert.True(t, auth.VerifyPassword(hash, long))
	assert.False(t, auth.VerifyPassword(hash, other))
}

func TestHashesAreSalted(t *testing.T) {
	a, err := auth.HashPassword("same password")
	require.NoError(t, err)
	b, err := auth.HashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, auth.VerifyPassword(a, "same password"))
	assert.True(t, auth.VerifyPassword(b, "same password"))
}
