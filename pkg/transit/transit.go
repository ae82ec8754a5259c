// Package transit implements a named, versioned key-management service.
// Applications never see raw key material; they ask the engine to
// encrypt/decrypt/sign/verify by key name, and the engine wraps every
// version's material under the encryption service.
package transit

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ironseal/ironseal/internal/aead"
	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/pkg/cryptosvc"
)

// KeyType enumerates the key algorithms the engine supports. AES-256-GCM is
// the symmetric default, matching the Encryption Service's own algorithm;
// the asymmetric types sign and verify only.
type KeyType string

const (
	KeyTypeAES256GCM        KeyType = "aes256-gcm"
	KeyTypeChaCha20Poly1305 KeyType = "chacha20-poly1305"
	KeyTypeRSA2048          KeyType = "rsa-2048"
	KeyTypeRSA3072          KeyType = "rsa-3072"
	KeyTypeRSA4096          KeyType = "rsa-4096"
	KeyTypeECDSAP256        KeyType = "ecdsa-p256"
	KeyTypeECDSAP384        KeyType = "ecdsa-p384"
	KeyTypeEd25519          KeyType = "ed25519"
)

func (k KeyType) valid() bool {
	switch k {
	case KeyTypeAES256GCM, KeyTypeChaCha20Poly1305,
		KeyTypeRSA2048, KeyTypeRSA3072, KeyTypeRSA4096,
		KeyTypeECDSAP256, KeyTypeECDSAP384, KeyTypeEd25519:
		return true
	}
	return false
}

func (k KeyType) symmetric() bool {
	return k == KeyTypeAES256GCM || k == KeyTypeChaCha20Poly1305
}

func (k KeyType) asymmetric() bool { return k.valid() && !k.symmetric() }

// envelopePrefix is the transit ciphertext envelope prefix; the full form
// is "vault:v<version>:<base64 inner envelope>".
const envelopePrefix = "vault:v"

// KeyVersion is one version of a transit key's material, wrapped under the
// Encryption Service. WrappedMaterial is cleared once the version is
// destroyed (by Delete).
type KeyVersion struct {
	Version         int
	WrappedMaterial string
	CreatedAt       time.Time
}

// Key is the full persisted record for one named transit key. A nonzero
// AutoRotateInterval makes the key eligible for SweepAutoRotate once its
// newest version is older than the interval.
type Key struct {
	Name                 string
	Type                 KeyType
	Exportable           bool
	AllowPlaintextBackup bool
	DeletionProtection   bool
	CurrentVersion       int
	MinEncryptionVersion int
	MinDecryptionVersion int
	AutoRotateInterval   time.Duration
	Versions             map[int]*KeyVersion
	CreatedAt            time.Time
}

// Repository persists Key records, engine-owned per the same pattern as
// pkg/sealctl.ConfigStore and pkg/kv.Repository.
type Repository interface {
	Load(ctx context.Context, name string) (*Key, error)
	Save(ctx context.Context, key *Key) error
	Delete(ctx context.Context, name string) error
	// ListNames returns every stored key name, for the auto-rotate sweep.
	ListNames(ctx context.Context) ([]string, error)
}

// AuditRecorder receives one event per audited key lifecycle operation:
// CreateKey, Rotate, Delete, and Export. pkg/audit's Logger satisfies this
// by duck typing, the same one-directional dependency convention
// pkg/kv.AuditRecorder uses.
type AuditRecorder interface {
	RecordKeyEvent(ctx context.Context, action, keyName string, version int) error
}

// Engine implements the Transit Engine.
type Engine struct {
	repo   Repository
	crypto *cryptosvc.Service
	audit  AuditRecorder
}

// New wires an Engine against its repository, the Encryption Service used
// to wrap/unwrap each version's raw key material, and an audit recorder.
func New(repo Repository, crypto *cryptosvc.Service, audit AuditRecorder) *Engine {
	return &Engine{repo: repo, crypto: crypto, audit: audit}
}

func (e *Engine) recordKeyEvent(ctx context.Context, op, action, keyName string, version int) error {
	if e.audit == nil {
		return nil
	}
	if err := e.audit.RecordKeyEvent(ctx, action, keyName, version); err != nil {
		return ierrors.Wrap(ierrors.Internal, op, err)
	}
	return nil
}

// CreateKey generates version-1 material for a new named key.
// deletionProtection guards the key against Delete (and against Rotate
// without an explicit override) until cleared via SetDeletionProtection.
func (e *Engine) CreateKey(ctx context.Context, name string, keyType KeyType, exportable, allowPlaintextBackup, deletionProtection bool) error {
	if !keyType.valid() {
		return ierrors.New(ierrors.InvalidArgument, "CreateKey", "unknown key type "+string(keyType))
	}
	existing, err := e.repo.Load(ctx, name)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "CreateKey", err)
	}
	if existing != nil {
		return ierrors.New(ierrors.Conflict, "CreateKey", "a transit key with this name already exists")
	}

	material, err := generateMaterial(keyType)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "CreateKey", err)
	}
	wrapped, err := e.crypto.Encrypt(material, []byte(name))
	zeroize(material)
	if err != nil {
		return err
	}

	key := &Key{
		Name:                 name,
		Type:                 keyType,
		Exportable:           exportable,
		AllowPlaintextBackup: allowPlaintextBackup,
		DeletionProtection:   deletionProtection,
		CurrentVersion:       1,
		MinEncryptionVersion: 1,
		MinDecryptionVersion: 1,
		Versions: map[int]*KeyVersion{
			1: {Version: 1, WrappedMaterial: wrapped, CreatedAt: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repo.Save(ctx, key); err != nil {
		return ierrors.Wrap(ierrors.Internal, "CreateKey", err)
	}
	return e.recordKeyEvent(ctx, "CreateKey", "create", name, 1)
}

// Rotate generates a new version and advances CurrentVersion. A
// deletion-protected key requires override=true.
func (e *Engine) Rotate(ctx context.Context, name string, override bool) error {
	key, err := e.loadKey(ctx, name, "Rotate")
	if err != nil {
		return err
	}
	if key.DeletionProtection && !override {
		return ierrors.New(ierrors.Unsupported, "Rotate", "key is deletion-protected; pass override to rotate anyway")
	}
	return e.rotateKey(ctx, key, "Rotate", "rotate")
}

func (e *Engine) rotateKey(ctx context.Context, key *Key, op, action string) error {
	material, err := generateMaterial(key.Type)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, op, err)
	}
	wrapped, err := e.crypto.Encrypt(material, []byte(key.Name))
	zeroize(material)
	if err != nil {
		return err
	}

	newVersion := key.CurrentVersion + 1
	key.Versions[newVersion] = &KeyVersion{Version: newVersion, WrappedMaterial: wrapped, CreatedAt: time.Now().UTC()}
	key.CurrentVersion = newVersion

	if err := e.save(ctx, key, op); err != nil {
		return err
	}
	return e.recordKeyEvent(ctx, op, action, key.Name, newVersion)
}

// SetDeletionProtection toggles a key's deletion protection, making Delete
// (and routine Rotate) reachable for keys created with protection on.
func (e *Engine) SetDeletionProtection(ctx context.Context, name string, protected bool) error {
	key, err := e.loadKey(ctx, name, "SetDeletionProtection")
	if err != nil {
		return err
	}
	key.DeletionProtection = protected
	return e.save(ctx, key, "SetDeletionProtection")
}

// SetAutoRotate sets (or, with zero, disables) a key's auto-rotate
// interval.
func (e *Engine) SetAutoRotate(ctx context.Context, name string, interval time.Duration) error {
	if interval < 0 {
		return ierrors.New(ierrors.InvalidArgument, "SetAutoRotate", "interval must not be negative")
	}
	key, err := e.loadKey(ctx, name, "SetAutoRotate")
	if err != nil {
		return err
	}
	key.AutoRotateInterval = interval
	return e.save(ctx, key, "SetAutoRotate")
}

// SweepAutoRotate rotates every key whose auto-rotate interval has elapsed
// since its newest version was created, returning the names rotated.
// Deletion protection does not block the sweep: the interval is an explicit
// policy set on the key itself.
func (e *Engine) SweepAutoRotate(ctx context.Context) ([]string, error) {
	names, err := e.repo.ListNames(ctx)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "SweepAutoRotate", err)
	}

	now := time.Now().UTC()
	var rotated []string
	for _, name := range names {
		key, err := e.loadKey(ctx, name, "SweepAutoRotate")
		if err != nil {
			return rotated, err
		}
		if key.AutoRotateInterval <= 0 {
			continue
		}
		current, ok := key.Versions[key.CurrentVersion]
		if !ok || now.Before(current.CreatedAt.Add(key.AutoRotateInterval)) {
			continue
		}
		if err := e.rotateKey(ctx, key, "SweepAutoRotate", "auto-rotate"); err != nil {
			return rotated, err
		}
		rotated = append(rotated, name)
	}
	return rotated, nil
}

// Encrypt encrypts plaintext under the current version, unless pinVersion
// is non-nil and at least MinEncryptionVersion. context is used as AEAD
// additional data.
func (e *Engine) Encrypt(ctx context.Context, name string, plaintext, context []byte, pinVersion *int) (string, error) {
	key, err := e.loadKey(ctx, name, "Encrypt")
	if err != nil {
		return "", err
	}
	if !key.Type.symmetric() {
		return "", ierrors.New(ierrors.InvalidArgument, "Encrypt", "key type does not support encryption")
	}

	version := key.CurrentVersion
	if pinVersion != nil {
		if *pinVersion < key.MinEncryptionVersion {
			return "", ierrors.New(ierrors.InvalidArgument, "Encrypt", "pinned version is below minimum-encryption version")
		}
		version = *pinVersion
	}

	dek, err := e.unwrapVersion(key, version)
	if err != nil {
		return "", err
	}
	defer zeroize(dek)

	inner, err := symmetricSeal(key.Type, dek, plaintext, context)
	if err != nil {
		return "", ierrors.Wrap(ierrors.Internal, "Encrypt", err)
	}
	return envelopePrefix + strconv.Itoa(version) + ":" + base64.StdEncoding.EncodeToString(inner), nil
}

// Decrypt parses a transit envelope and decrypts it with the version it
// references. Fails with InvalidArgument if that version is below
// MinDecryptionVersion or does not exist.
func (e *Engine) Decrypt(ctx context.Context, name, ciphertext string, context []byte) ([]byte, error) {
	key, err := e.loadKey(ctx, name, "Decrypt")
	if err != nil {
		return nil, err
	}
	if !key.Type.symmetric() {
		return nil, ierrors.New(ierrors.InvalidArgument, "Decrypt", "key type does not support decryption")
	}

	version, inner, err := parseEnvelope(ciphertext)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidCiphertext, "Decrypt", err)
	}
	if version < key.MinDecryptionVersion {
		return nil, ierrors.New(ierrors.InvalidArgument, "Decrypt", "ciphertext version is below minimum-decryption version")
	}

	dek, err := e.unwrapVersion(key, version)
	if err != nil {
		return nil, err
	}
	defer zeroize(dek)

	plaintext, err := aead.Open(dek, inner, context)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidCiphertext, "Decrypt", err)
	}
	return plaintext, nil
}

// Rewrap decrypts with any valid prior version and re-encrypts with the
// current version in one step; the plaintext never leaves the engine.
func (e *Engine) Rewrap(ctx context.Context, name, ciphertext string, context []byte) (string, error) {
	plaintext, err := e.Decrypt(ctx, name, ciphertext, context)
	if err != nil {
		return "", err
	}
	defer zeroize(plaintext)
	return e.Encrypt(ctx, name, plaintext, context, nil)
}

// Sign produces a signature over message using the current version of an
// asymmetric key. The signature algorithm follows the key type: ASN.1
// ECDSA over SHA-256 (P-256) or SHA-384 (P-384), RSA-PSS over SHA-256, or
// pure Ed25519.
func (e *Engine) Sign(ctx context.Context, name string, message []byte) (string, error) {
	key, err := e.loadKey(ctx, name, "Sign")
	if err != nil {
		return "", err
	}
	if !key.Type.asymmetric() {
		return "", ierrors.New(ierrors.InvalidArgument, "Sign", "key type does not support signing")
	}

	der, err := e.unwrapVersion(key, key.CurrentVersion)
	if err != nil {
		return "", err
	}
	defer zeroize(der)

	priv, err := parsePrivateKey(der)
	if err != nil {
		return "", ierrors.Wrap(ierrors.Internal, "Sign", err)
	}

	var sig []byte
	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		digest := curveDigest(k.Curve, message)
		sig, err = ecdsa.SignASN1(rand.Reader, k, digest)
	case *rsa.PrivateKey:
		digest := sha256.Sum256(message)
		sig, err = rsa.SignPSS(rand.Reader, k, crypto.SHA256, digest[:], nil)
	case ed25519.PrivateKey:
		sig = ed25519.Sign(k, message)
	default:
		return "", ierrors.New(ierrors.Internal, "Sign", "unexpected private key type")
	}
	if err != nil {
		return "", ierrors.Wrap(ierrors.Internal, "Sign", err)
	}
	return envelopePrefix + strconv.Itoa(key.CurrentVersion) + ":" + base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign against message.
func (e *Engine) Verify(ctx context.Context, name string, message []byte, signature string) (bool, error) {
	key, err := e.loadKey(ctx, name, "Verify")
	if err != nil {
		return false, err
	}
	if !key.Type.asymmetric() {
		return false, ierrors.New(ierrors.InvalidArgument, "Verify", "key type does not support verification")
	}

	version, sig, err := parseEnvelope(signature)
	if err != nil {
		return false, ierrors.Wrap(ierrors.InvalidArgument, "Verify", err)
	}

	der, err := e.unwrapVersion(key, version)
	if err != nil {
		return false, err
	}
	defer zeroize(der)

	priv, err := parsePrivateKey(der)
	if err != nil {
		return false, ierrors.Wrap(ierrors.Internal, "Verify", err)
	}

	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		digest := curveDigest(k.Curve, message)
		return ecdsa.VerifyASN1(&k.PublicKey, digest, sig), nil
	case *rsa.PrivateKey:
		digest := sha256.Sum256(message)
		return rsa.VerifyPSS(&k.PublicKey, crypto.SHA256, digest[:], sig, nil) == nil, nil
	case ed25519.PrivateKey:
		return ed25519.Verify(k.Public().(ed25519.PublicKey), message, sig), nil
	default:
		return false, ierrors.New(ierrors.Internal, "Verify", "unexpected private key type")
	}
}

// Export returns the raw material for the requested version. Only
// permitted when the key was created with Exportable set.
func (e *Engine) Export(ctx context.Context, name string, version int) ([]byte, error) {
	key, err := e.loadKey(ctx, name, "Export")
	if err != nil {
		return nil, err
	}
	if !key.Exportable {
		return nil, ierrors.New(ierrors.Unauthorized, "Export", "key is not exportable")
	}
	material, err := e.unwrapVersion(key, version)
	if err != nil {
		return nil, err
	}
	if err := e.recordKeyEvent(ctx, "Export", "export", name, version); err != nil {
		return nil, err
	}
	return material, nil
}

// Delete zeroizes all version material and removes the key. Permitted only
// when DeletionProtection is false.
func (e *Engine) Delete(ctx context.Context, name string) error {
	key, err := e.loadKey(ctx, name, "Delete")
	if err != nil {
		return err
	}
	if key.DeletionProtection {
		return ierrors.New(ierrors.Unsupported, "Delete", "key is deletion-protected")
	}
	currentVersion := key.CurrentVersion
	if err := e.repo.Delete(ctx, name); err != nil {
		return ierrors.Wrap(ierrors.Internal, "Delete", err)
	}
	return e.recordKeyEvent(ctx, "Delete", "delete", name, currentVersion)
}

// SetVersionBounds updates MinEncryptionVersion/MinDecryptionVersion. A
// zero bound means unconstrained; minEncryption may otherwise only be
// pinned to the current version, while minDecryption may name any version
// up to it.
func (e *Engine) SetVersionBounds(ctx context.Context, name string, minEncryption, minDecryption int) error {
	key, err := e.loadKey(ctx, name, "SetVersionBounds")
	if err != nil {
		return err
	}
	if minEncryption != 0 && minEncryption != key.CurrentVersion {
		return ierrors.New(ierrors.InvalidArgument, "SetVersionBounds", "minimum-encryption version must be 0 or the current version")
	}
	if minDecryption < 0 || minDecryption > key.CurrentVersion {
		return ierrors.New(ierrors.InvalidArgument, "SetVersionBounds", "minimum-decryption version must be within 0..current version")
	}
	key.MinEncryptionVersion = minEncryption
	key.MinDecryptionVersion = minDecryption
	return e.save(ctx, key, "SetVersionBounds")
}

func (e *Engine) loadKey(ctx context.Context, name, op string) (*Key, error) {
	key, err := e.repo.Load(ctx, name)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, op, err)
	}
	if key == nil {
		return nil, ierrors.New(ierrors.NotFound, op, "no transit key named "+name)
	}
	return key, nil
}

func (e *Engine) save(ctx context.Context, key *Key, op string) error {
	if err := e.repo.Save(ctx, key); err != nil {
		return ierrors.Wrap(ierrors.Internal, op, err)
	}
	return nil
}

func (e *Engine) unwrapVersion(key *Key, version int) ([]byte, error) {
	v, ok := key.Versions[version]
	if !ok || v.WrappedMaterial == "" {
		return nil, ierrors.New(ierrors.NotFound, "unwrapVersion", "key version does not exist or has been destroyed")
	}
	material, err := e.crypto.Decrypt(v.WrappedMaterial, []byte(key.Name))
	if err != nil {
		return nil, err
	}
	return material, nil
}

// generateMaterial returns fresh raw material for one key version: random
// bytes for the symmetric types, a PKCS#8-marshaled private key for the
// asymmetric ones.
func generateMaterial(keyType KeyType) ([]byte, error) {
	switch keyType {
	case KeyTypeAES256GCM, KeyTypeChaCha20Poly1305:
		material := make([]byte, aead.KeyLength)
		if _, err := rand.Read(material); err != nil {
			return nil, err
		}
		return material, nil
	case KeyTypeECDSAP256:
		return generateECDSAMaterial(elliptic.P256())
	case KeyTypeECDSAP384:
		return generateECDSAMaterial(elliptic.P384())
	case KeyTypeRSA2048:
		return generateRSAMaterial(2048)
	case KeyTypeRSA3072:
		return generateRSAMaterial(3072)
	case KeyTypeRSA4096:
		return generateRSAMaterial(4096)
	case KeyTypeEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return x509.MarshalPKCS8PrivateKey(priv)
	default:
		return nil, fmt.Errorf("transit: unsupported key type %q", keyType)
	}
}

func generateECDSAMaterial(curve elliptic.Curve) ([]byte, error) {
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

func generateRSAMaterial(bits int) ([]byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

func parsePrivateKey(der []byte) (any, error) {
	return x509.ParsePKCS8PrivateKey(der)
}

// curveDigest hashes message with the digest conventionally paired with the
// curve's strength: SHA-256 for P-256, SHA-384 for P-384.
func curveDigest(curve elliptic.Curve, message []byte) []byte {
	if curve == elliptic.P384() {
		digest := sha512.Sum384(message)
		return digest[:]
	}
	digest := sha256.Sum256(message)
	return digest[:]
}

func symmetricSeal(keyType KeyType, dek, plaintext, aad []byte) ([]byte, error) {
	if keyType == KeyTypeChaCha20Poly1305 {
		return aead.SealChaCha20Poly1305(dek, plaintext, aad)
	}
	return aead.Seal(dek, plaintext, aad)
}

func parseEnvelope(s string) (int, []byte, error) {
	if !strings.HasPrefix(s, envelopePrefix) {
		return 0, nil, fmt.Errorf("transit: ciphertext missing %q prefix", envelopePrefix)
	}
	rest := s[len(envelopePrefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("transit: malformed envelope")
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, nil, fmt.Errorf("transit: malformed version: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("transit: malformed payload: %w", err)
	}
	return version, data, nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
