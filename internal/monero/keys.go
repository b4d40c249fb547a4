package monero

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const KeySize = 32

var (
	ErrInvalidHash        = errors.New("invalid hash digest")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrSecretKeyDestroyed = errors.New("secret key has been already destroyed")
	ErrSecretKeyZero      = errors.New("secret key cannot be zero")
)

// HashDigest is a 32-byte hash (tx id, key image) kept in its lowercase hex
// form so it can be used directly as a map key.
type HashDigest string

// ParseHashDigest validates a 64-char hex string.
func ParseHashDigest(s string) (HashDigest, error) {
	if len(s) != 2*KeySize {
		return "", fmt.Errorf("%w: length must be 64 hex chars, got %d", ErrInvalidHash, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return HashDigest(strings.ToLower(s)), nil
}

// HashDigestFromBytes hex-encodes a 32-byte digest.
func HashDigestFromBytes(b []byte) (HashDigest, error) {
	if len(b) != KeySize {
		return "", fmt.Errorf("%w: length must be 32 bytes, got %d", ErrInvalidHash, len(b))
	}
	return HashDigest(hex.EncodeToString(b)), nil
}

func (h HashDigest) Bytes() []byte {
	b, _ := hex.DecodeString(string(h))
	return b
}

func (h HashDigest) String() string {
	return string(h)
}

// PublicKey is an elliptic curve point in its 32-byte compressed form.
type PublicKey [KeySize]byte

// ParsePublicKey decodes a 64-char hex public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if len(s) != 2*KeySize {
		return pk, fmt.Errorf("%w: length must be 64 hex chars, got %d", ErrInvalidPublicKey, len(s))
	}
	if _, err := hex.Decode(pk[:], []byte(s)); err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pk, nil
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// SecretKey wraps a secret scalar. Destroy zeroes the backing array; a
// SecretKey is not safe for concurrent use.
type SecretKey struct {
	secret    [KeySize]byte
	destroyed bool
}

// NewSecretKey copies a 32-byte scalar.
func NewSecretKey(scalar []byte) (*SecretKey, error) {
	if len(scalar) != KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", KeySize, len(scalar))
	}
	sk := &SecretKey{}
	copy(sk.secret[:], scalar)
	return sk, nil
}

// NewRandomSecretKey draws a key from crypto/rand.
func NewRandomSecretKey() (*SecretKey, error) {
	sk := &SecretKey{}
	if _, err := rand.Read(sk.secret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}
	return sk, nil
}

func (sk *SecretKey) isNonZero() bool {
	var zero [KeySize]byte
	return subtle.ConstantTimeCompare(sk.secret[:], zero[:]) == 0
}

// Bytes returns a copy of the scalar.
func (sk *SecretKey) Bytes() ([]byte, error) {
	if sk.destroyed {
		return nil, ErrSecretKeyDestroyed
	}
	if !sk.isNonZero() {
		return nil, ErrSecretKeyZero
	}
	out := make([]byte, KeySize)
	copy(out, sk.secret[:])
	return out, nil
}

// Equal compares two keys in constant time.
func (sk *SecretKey) Equal(other *SecretKey) bool {
	if sk == other {
		return true
	}
	if sk == nil || other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(sk.secret[:], other.secret[:]) == 1
}

func (sk *SecretKey) Destroyed() bool {
	return sk.destroyed
}

// Destroy zeroes the scalar. Calling it more than once is harmless.
func (sk *SecretKey) Destroy() {
	if !sk.destroyed {
		clear(sk.secret[:])
	}
	sk.destroyed = true
}

// Close implements io.Closer.
func (sk *SecretKey) Close() error {
	sk.Destroy()
	return nil
}

// String never reveals the scalar.
func (sk *SecretKey) String() string {
	return "SecretKey(***)"
}
