package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	testCases := []struct {
		name     string
		password string
	}{
		{name: "common password", password: "password123"},
		{name: "empty password", password: ""},
		{name: "long password", password: strings.Repeat("ab1!", 15)},
		{name: "special characters", password: "p@$$w0rd!#%&*()_+"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := HashPassword(tc.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tc.password, hash)

			assert.True(t, CheckPasswordHash(tc.password, hash))
			assert.False(t, CheckPasswordHash(tc.password+"wrong", hash))
		})
	}
}

func TestHashPasswordTooLong(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	// The limit counts bytes, not runes.
	_, err = HashPassword(strings.Repeat("é", 40))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = HashPassword(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)
}

func TestCheckPasswordHash(t *testing.T) {
	password := "testpassword"
	hash, err := HashPassword(password)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		password string
		hash     string
		expected bool
	}{
		{name: "correct password", password: password, hash: hash, expected: true},
		{name: "incorrect password", password: "wrongpassword", hash: hash, expected: false},
		{name: "empty password", password: "", hash: hash, expected: false},
		{name: "invalid hash", password: password, hash: "invalid$hash$format", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CheckPasswordHash(tc.password, tc.hash))
		})
	}
}
