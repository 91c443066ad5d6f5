package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecret(t *testing.T) {
	t.Parallel()

	t.Run("format", func(t *testing.T) {
		t.Parallel()
		raw, prefix, hash, err := NewSecret()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(raw, "lds_"))
		assert.Len(t, raw, len("lds_")+32)
		assert.Equal(t, raw[:8], prefix)
		assert.Contains(t, hash, "$")
	})

	t.Run("unique across calls", func(t *testing.T) {
		t.Parallel()
		a, _, _, err := NewSecret()
		require.NoError(t, err)
		b, _, _, err := NewSecret()
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
	})

	t.Run("raw verifies against stored hash", func(t *testing.T) {
		t.Parallel()
		raw, _, hash, err := NewSecret()
		require.NoError(t, err)

		assert.True(t, verifySecret(raw, hash))
	})
}

func TestHashSecret(t *testing.T) {
	t.Parallel()

	t.Run("salted", func(t *testing.T) {
		t.Parallel()
		h1, err := HashSecret("lds_deadbeef")
		require.NoError(t, err)
		h2, err := HashSecret("lds_deadbeef")
		require.NoError(t, err)

		// Different salts produce different digests for the same input.
		assert.NotEqual(t, h1, h2)
		assert.True(t, verifySecret("lds_deadbeef", h1))
		assert.True(t, verifySecret("lds_deadbeef", h2))
	})
}

func TestVerifySecret(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("lds_correct")
	require.NoError(t, err)

	tests := []struct {
		name    string
		secret  string
		encoded string
		want    bool
	}{
		{"matching secret", "lds_correct", hash, true},
		{"wrong secret", "lds_wrong", hash, false},
		{"empty secret", "", hash, false},
		{"missing separator", "lds_correct", "deadbeef", false},
		{"empty encoded", "lds_correct", "", false},
		{"non-hex salt", "lds_correct", "zzzz$deadbeef", false},
		{"non-hex hash", "lds_correct", "deadbeef$zzzz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, verifySecret(tt.secret, tt.encoded))
		})
	}
}
