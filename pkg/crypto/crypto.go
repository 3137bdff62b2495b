// Package crypto provides the password digest primitives for securefolder.
//
// Passwords are never stored. Only a hex-encoded SHA-256 digest is persisted
// in the vault configuration and compared at unlock time.
//
// # Example Usage
//
//	digest := crypto.HashPassword("correct horse")
//	if crypto.VerifyPassword(input, digest) {
//		// unlocked
//	}
//
//	// Securely wipe password buffers read from a terminal
//	crypto.SecureWipe(buf)
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
)

// DigestLength is the length of a hex-encoded SHA-256 digest.
const DigestLength = sha256.Size * 2

// ErrInvalidDigest indicates a stored digest is not a hex SHA-256 value.
var ErrInvalidDigest = errors.New("crypto: invalid password digest")

// HashPassword returns the hex-encoded SHA-256 digest of password.
// The same input always yields the same digest.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword reports whether password hashes to digest.
// The comparison runs in constant time with respect to the digest contents.
func VerifyPassword(password, digest string) bool {
	if len(digest) != DigestLength {
		return false
	}
	computed := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// ValidateDigest checks that digest is a well-formed hex SHA-256 value.
func ValidateDigest(digest string) error {
	if len(digest) != DigestLength {
		return fmt.Errorf("%w: length %d", ErrInvalidDigest, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return nil
}

// RandomHex returns n random bytes from crypto/rand, hex encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive keeps b "in use" so the loop is not optimized away.
	runtime.KeepAlive(b)
}
