package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	a, err := Hash(SHA256, []byte("hello"))
	require.NoError(t, err)
	b, err := Hash(SHA256, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	require.NoError(t, Random(key))
	iv := make([]byte, 12)
	require.NoError(t, Random(iv))

	ct, err := Encrypt(AESGCM, key, iv, []byte("secret message"))
	require.NoError(t, err)

	pt, err := Decrypt(AESGCM, key, iv, ct)
	require.NoError(t, err)
	assert.Equal(t, "secret message", string(pt))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare([]byte("abc"), []byte("abc")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("abd")))
}

func TestSecureZero(t *testing.T) {
	buf := []byte{1, 2, 3}
	SecureZero(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestKDFIsDeterministicForSameInputs(t *testing.T) {
	salt := []byte("salt1234")
	a := KDF([]byte("password"), salt, 1000, 32)
	b := KDF([]byte("password"), salt, 1000, 32)
	assert.Equal(t, a, b)
}
