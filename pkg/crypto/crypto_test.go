package crypto_test

import (
	"strings"
	"testing"

	"github.com/absmach/fedids/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer(t *testing.T) {
	key := strings.Repeat("ab", 32)

	s, err := crypto.NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("weights"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "weights")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(opened))

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	assert.Error(t, err)
}

func TestNilSealerPassesThrough(t *testing.T) {
	s, err := crypto.NewSealer("")
	require.NoError(t, err)
	assert.Nil(t, s)

	out, err := s.Seal([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	out, err = s.Open([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	_, err := crypto.NewSealer("zz")
	assert.Error(t, err)

	_, err = crypto.NewSealer("abcd")
	assert.ErrorIs(t, err, crypto.ErrInvalidKeySize)
}
