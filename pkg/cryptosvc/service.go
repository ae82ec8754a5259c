// Package cryptosvc implements the encryption service: AEAD encryption and
// decryption of application data under the process-wide master key,
// failing uniformly whenever the store is sealed or a ciphertext does not
// authenticate.
package cryptosvc

import (
	"encoding/base64"

	"github.com/ironseal/ironseal/internal/aead"
	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/secure"
)

// Service provides AEAD-encrypt/decrypt over whatever master key is
// currently installed in cell. It holds no key material itself; every call
// re-fetches the key from the cell, so a Seal mid-flight is observed by the
// next call rather than cached.
type Service struct {
	cell *secure.MasterKeyCell
}

// New wires a Service against the Seal Controller's master-key cell.
func New(cell *secure.MasterKeyCell) *Service {
	return &Service{cell: cell}
}

// Encrypt seals plaintext with aad as associated data, returning a
// base64-encoded ciphertext envelope. Fails with Sealed if no master key is
// installed.
func (s *Service) Encrypt(plaintext, aad []byte) (string, error) {
	var envelope []byte
	present, err := s.cell.Use(func(key []byte) error {
		var encErr error
		envelope, encErr = aead.Seal(key, plaintext, aad)
		return encErr
	})
	if !present {
		return "", ierrors.New(ierrors.Sealed, "Encrypt", "store is sealed")
	}
	if err != nil {
		return "", ierrors.Wrap(ierrors.Internal, "Encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Decrypt opens a base64-encoded ciphertext envelope produced by Encrypt
// with the same aad. Every decryption failure — wrong key, tampered
// ciphertext, malformed envelope, unknown version — surfaces uniformly as
// InvalidCiphertext so no call site can use this as a key-guessing oracle.
func (s *Service) Decrypt(encoded string, aad []byte) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidCiphertext, "Decrypt", err)
	}

	var plaintext []byte
	present, err := s.cell.Use(func(key []byte) error {
		var openErr error
		plaintext, openErr = aead.Open(key, envelope, aad)
		return openErr
	})
	if !present {
		return nil, ierrors.New(ierrors.Sealed, "Decrypt", "store is sealed")
	}
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidCiphertext, "Decrypt", err)
	}
	return plaintext, nil
}
