// Package crypto is the thin adapter the security core talks to for
// the cryptographic-collaborator interface (spec §4.7.5): hash,
// encrypt/decrypt, random, secure_compare, secure_zero, kdf. The
// primitives themselves are out of the core's design scope; this
// package is a concrete, minimal implementation for the security core
// to link against. Its caller in this module is security/audit, which
// uses Hash and SecureCompare for the audit ring's hash chain.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kos-sim/kos/kerrors"
)

// Kind identifies a digest or cipher algorithm. The core treats this
// as opaque; only this adapter interprets it.
type Kind int

const (
	SHA256 Kind = iota
	AESGCM
)

func Hash(kind Kind, input []byte) ([]byte, error) {
	switch kind {
	case SHA256:
		sum := sha256.Sum256(input)
		return sum[:], nil
	default:
		return nil, kerrors.NotSupportedf("crypto: unsupported hash kind %d", kind)
	}
}

func Encrypt(kind Kind, key, iv, in []byte) ([]byte, error) {
	switch kind {
	case AESGCM:
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		return gcm.Seal(nil, iv, in, nil), nil
	default:
		return nil, kerrors.NotSupportedf("crypto: unsupported cipher kind %d", kind)
	}
}

func Decrypt(kind Kind, key, iv, in []byte) ([]byte, error) {
	switch kind {
	case AESGCM:
		gcm, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		out, err := gcm.Open(nil, iv, in, nil)
		if err != nil {
			return nil, kerrors.IOf("crypto: decrypt failed: %v", err)
		}
		return out, nil
	default:
		return nil, kerrors.NotSupportedf("crypto: unsupported cipher kind %d", kind)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, kerrors.InvalidParamf("crypto: bad key: %v", err)
	}
	return cipher.NewGCM(block)
}

// Random fills buf with cryptographically secure random bytes.
func Random(buf []byte) error {
	_, err := rand.Read(buf)
	if err != nil {
		return kerrors.IOf("crypto: random failed: %v", err)
	}
	return nil
}

// SecureCompare is a constant-time comparison; timing-sensitive
// callers (such as audit.Verify) use this rather than bytes.Equal.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecureZero overwrites buf with zero bytes.
func SecureZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// KDF derives a key from password and salt (spec §4.7.5's kdf).
func KDF(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}
