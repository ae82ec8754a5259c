// Package aead implements the single ciphertext-envelope format shared by
// the Seal Controller (wrapping the master key under the KEK), the
// Encryption Service (wrapping application data under the master key), and
// the Transit Engine's symmetric key types: version byte, 96-bit random
// nonce, ciphertext, and tag.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// VersionAES256GCM identifies an AES-256-GCM envelope; the default for
// every layer below transit.
const VersionAES256GCM byte = 0x01

// VersionChaCha20Poly1305 identifies a ChaCha20-Poly1305 envelope, produced
// only for transit keys of that type.
const VersionChaCha20Poly1305 byte = 0x02

// KeyLength is the required AES-256 key size in bytes.
const KeyLength = 32

// NonceLength is the GCM standard nonce size in bytes.
const NonceLength = 12

// ErrAuthenticationFailed is returned, unwrapped by any other detail, when
// decryption fails for any reason: wrong key, tampered ciphertext, or
// truncated envelope. Callers must not distinguish these causes, to avoid
// giving an attacker a decryption oracle.
var ErrAuthenticationFailed = fmt.Errorf("aead: authentication failed")

// ErrUnknownVersion is returned when an envelope's version byte does not
// match any version this package understands.
var ErrUnknownVersion = fmt.Errorf("aead: unknown envelope version")

// Seal encrypts plaintext under key (must be KeyLength bytes) with aad as
// additional authenticated data, returning version || nonce || ciphertext
// || tag.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return seal(VersionAES256GCM, gcm, plaintext, aad)
}

// SealChaCha20Poly1305 is Seal with ChaCha20-Poly1305 in place of AES-GCM,
// producing a VersionChaCha20Poly1305 envelope.
func SealChaCha20Poly1305(key, plaintext, aad []byte) ([]byte, error) {
	c, err := newChaCha(key)
	if err != nil {
		return nil, err
	}
	return seal(VersionChaCha20Poly1305, c, plaintext, aad)
}

func seal(version byte, c cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: generating nonce: %w", err)
	}

	sealed := c.Seal(nil, nonce, plaintext, aad)

	envelope := make([]byte, 0, 1+NonceLength+len(sealed))
	envelope = append(envelope, version)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return envelope, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceLength)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	return gcm, nil
}

func newChaCha(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeyLength, len(key))
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	return c, nil
}

// Open decrypts an envelope produced by Seal or SealChaCha20Poly1305 with
// the same key and aad, selecting the cipher by the envelope's version
// byte. Every failure mode collapses to ErrAuthenticationFailed or
// ErrUnknownVersion; callers must treat both uniformly at the engine
// boundary (InvalidCiphertext).
func Open(key, envelope, aad []byte) ([]byte, error) {
	if len(envelope) < 1+NonceLength {
		return nil, ErrAuthenticationFailed
	}

	var c cipher.AEAD
	var err error
	switch envelope[0] {
	case VersionAES256GCM:
		c, err = newAESGCM(key)
	case VersionChaCha20Poly1305:
		c, err = newChaCha(key)
	default:
		return nil, ErrUnknownVersion
	}
	if err != nil {
		return nil, err
	}

	nonce := envelope[1 : 1+NonceLength]
	ciphertext := envelope[1+NonceLength:]

	plaintext, err := c.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
