// Package kv implements the versioned, path-addressed KV secrets engine:
// every value is a JSON-serializable map, stored encrypted whole under the
// encryption service, with soft-delete/destroy/CAS/max-versions semantics
// layered over an opaque Repository.
package kv

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ironseal/ironseal/pkg/cryptosvc"

	ierrors "github.com/ironseal/ironseal/internal/errors"
)

// defaultMaxVersions bounds a secret's version history unless its
// metadata raises the cap.
const defaultMaxVersions = 10

// defaultLockTimeout is the per-path advisory lock wait.
const defaultLockTimeout = 5 * time.Second

// StoredVersion is one version of a secret as persisted: the ciphertext
// envelope (already base64-encoded by cryptosvc) plus lifecycle timestamps.
// Ciphertext is cleared (not merely marked) once destroyed.
type StoredVersion struct {
	Version         int
	Ciphertext      string
	PlaintextSHA256 string
	CreatedAt       time.Time
	DeletionTime    *time.Time
	DestructionTime *time.Time
}

func (v *StoredVersion) destroyed() bool { return v.DestructionTime != nil }
func (v *StoredVersion) deleted() bool   { return v.DeletionTime != nil }

// StoredSecret is the full persisted record at one path.
type StoredSecret struct {
	Path               string
	CurrentVersion     int
	OldestVersion      int
	Versions           map[int]*StoredVersion
	MaxVersions        int
	CASRequired        bool
	DeleteVersionAfter time.Duration
	CustomMetadata     map[string]string
	CreatedAt          time.Time
}

// Repository persists StoredSecret records. A concrete implementation
// lives in internal/storage; this interface lets the engine be tested
// against an in-memory fake, mirroring pkg/rotation/storage.go's
// engine-owns-the-interface pattern.
type Repository interface {
	Load(ctx context.Context, path string) (*StoredSecret, error)
	Save(ctx context.Context, secret *StoredSecret) error
	List(ctx context.Context, pathPrefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// AuditRecorder receives one event per read/write; every operation emits
// an audit entry and plaintext never enters a record. pkg/audit's Logger
// satisfies this by duck typing; kv does not import pkg/audit to keep the
// dependency one-directional.
type AuditRecorder interface {
	RecordRead(ctx context.Context, path string, version int) error
	RecordWrite(ctx context.Context, path string, oldVersion *int, newVersion int, plaintextSHA256 string) error
}

// Metadata is the read/update surface for a secret's configuration,
// without any version payloads.
type Metadata struct {
	MaxVersions        int
	CASRequired        bool
	DeleteVersionAfter time.Duration
	CustomMetadata     map[string]string
	CurrentVersion     int
	OldestVersion      int
	CreatedAt          time.Time
}

// Engine implements the KV Secrets Engine.
type Engine struct {
	repo   Repository
	crypto *cryptosvc.Service
	audit  AuditRecorder
	locks  pathLocks
}

// New wires an Engine against its repository, encryption service, and
// audit recorder.
func New(repo Repository, crypto *cryptosvc.Service, audit AuditRecorder) *Engine {
	return &Engine{repo: repo, crypto: crypto, audit: audit, locks: newPathLocks()}
}

// NormalizePath trims leading/trailing slashes; the empty result is invalid.
func NormalizePath(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "", ierrors.New(ierrors.InvalidArgument, "NormalizePath", "path must not be empty")
	}
	return trimmed, nil
}

// Write creates or updates the secret at path. expectedVersion is required
// whenever the existing secret has CASRequired set (or, for new secrets,
// whenever the caller wants CAS semantics at all): pass nil to skip CAS.
func (e *Engine) Write(ctx context.Context, path string, data map[string]any, expectedVersion *int) (int, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return 0, err
	}

	unlock, err := e.locks.acquire(ctx, path, defaultLockTimeout)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.Internal, "Write", err)
	}
	defer unlock()

	secret, err := e.repo.Load(ctx, path)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.Internal, "Write", err)
	}

	var oldVersionPtr *int
	if secret == nil {
		secret = &StoredSecret{
			Path:           path,
			Versions:       map[int]*StoredVersion{},
			MaxVersions:    defaultMaxVersions,
			CustomMetadata: map[string]string{},
			CreatedAt:      time.Now().UTC(),
		}
		if expectedVersion != nil && *expectedVersion != 0 {
			return 0, ierrors.New(ierrors.Conflict, "Write", "check-and-set version mismatch: secret does not exist")
		}
	} else {
		if secret.CASRequired && expectedVersion == nil {
			return 0, ierrors.New(ierrors.InvalidArgument, "Write", "secret requires check-and-set but no expected version was supplied")
		}
		if expectedVersion != nil && *expectedVersion != secret.CurrentVersion {
			return 0, ierrors.New(ierrors.Conflict, "Write", "check-and-set version mismatch")
		}
		old := secret.CurrentVersion
		oldVersionPtr = &old
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.InvalidArgument, "Write", err)
	}
	sum := sha256.Sum256(plaintext)
	hashHex := hexEncode(sum[:])

	ciphertext, err := e.crypto.Encrypt(plaintext, []byte(path))
	if err != nil {
		return 0, err
	}

	newVersion := secret.CurrentVersion + 1
	secret.Versions[newVersion] = &StoredVersion{
		Version:         newVersion,
		Ciphertext:      ciphertext,
		PlaintextSHA256: hashHex,
		CreatedAt:       time.Now().UTC(),
	}
	secret.CurrentVersion = newVersion
	if secret.OldestVersion == 0 {
		secret.OldestVersion = newVersion
	}
	if secret.MaxVersions == 0 {
		secret.MaxVersions = defaultMaxVersions
	}

	e.enforceMaxVersions(secret)

	if err := e.repo.Save(ctx, secret); err != nil {
		return 0, ierrors.Wrap(ierrors.Internal, "Write", err)
	}

	if e.audit != nil {
		if err := e.audit.RecordWrite(ctx, path, oldVersionPtr, newVersion, hashHex); err != nil {
			if rbErr := e.rollbackWrite(ctx, path, secret, newVersion, oldVersionPtr); rbErr != nil {
				return 0, ierrors.Wrap(ierrors.Internal, "Write", rbErr)
			}
			return 0, ierrors.Wrap(ierrors.Internal, "Write", err)
		}
	}

	return newVersion, nil
}

// rollbackWrite undoes the version Write just persisted when the audit
// append that must accompany it fails: the audit append is part of the
// same logical transaction as the state mutation it describes, so a failed
// append aborts the mutation rather than leaving an unrecorded version
// live.
func (e *Engine) rollbackWrite(ctx context.Context, path string, secret *StoredSecret, newVersion int, oldVersionPtr *int) error {
	if oldVersionPtr == nil {
		return e.repo.Delete(ctx, path)
	}
	delete(secret.Versions, newVersion)
	secret.CurrentVersion = *oldVersionPtr
	return e.repo.Save(ctx, secret)
}

// enforceMaxVersions destroys the oldest non-destroyed retained version
// once the live version count exceeds MaxVersions.
func (e *Engine) enforceMaxVersions(secret *StoredSecret) {
	live := 0
	for _, v := range secret.Versions {
		if !v.destroyed() {
			live++
		}
	}
	for live > secret.MaxVersions {
		oldest := -1
		for version, v := range secret.Versions {
			if v.destroyed() {
				continue
			}
			if oldest == -1 || version < oldest {
				oldest = version
			}
		}
		if oldest == -1 {
			break
		}
		destroyVersion(secret.Versions[oldest])
		if secret.OldestVersion == oldest {
			secret.OldestVersion = oldest + 1
		}
		live--
	}
}

func destroyVersion(v *StoredVersion) {
	now := time.Now().UTC()
	v.Ciphertext = ""
	v.PlaintextSHA256 = ""
	v.DestructionTime = &now
}

// Read returns the decrypted value at path. version defaults to current
// when nil. Fails with NotFound if the version is missing, soft-deleted,
// destroyed, below the oldest-retained version, or above current.
func (e *Engine) Read(ctx context.Context, path string, version *int) (map[string]any, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	secret, err := e.repo.Load(ctx, path)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Read", err)
	}
	if secret == nil {
		return nil, ierrors.New(ierrors.NotFound, "Read", "no secret at path")
	}

	target := secret.CurrentVersion
	if version != nil {
		target = *version
	}
	if target < 1 || target > secret.CurrentVersion || target < secret.OldestVersion {
		return nil, ierrors.New(ierrors.NotFound, "Read", "version out of range")
	}

	v, ok := secret.Versions[target]
	if !ok || v.destroyed() || v.deleted() {
		return nil, ierrors.New(ierrors.NotFound, "Read", "version not available")
	}
	// A delete-version-after policy soft-deletes versions by age; the
	// check happens at read time rather than through a background sweep.
	if secret.DeleteVersionAfter > 0 && !time.Now().UTC().Before(v.CreatedAt.Add(secret.DeleteVersionAfter)) {
		return nil, ierrors.New(ierrors.NotFound, "Read", "version not available")
	}

	plaintext, err := e.crypto.Decrypt(v.Ciphertext, []byte(path))
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Read", err)
	}

	if e.audit != nil {
		if err := e.audit.RecordRead(ctx, path, target); err != nil {
			return nil, ierrors.Wrap(ierrors.Internal, "Read", err)
		}
	}
	return data, nil
}

// SoftDelete marks versions deleted (payloads retained, no-op if already
// deleted or destroyed).
func (e *Engine) SoftDelete(ctx context.Context, path string, versions []int) error {
	return e.mutateVersions(ctx, path, versions, func(v *StoredVersion) {
		if v.destroyed() || v.deleted() {
			return
		}
		now := time.Now().UTC()
		v.DeletionTime = &now
	})
}

// Undelete clears the deletion time if the version has not been destroyed
// (no-op if not currently deleted).
func (e *Engine) Undelete(ctx context.Context, path string, versions []int) error {
	return e.mutateVersions(ctx, path, versions, func(v *StoredVersion) {
		if v.destroyed() || !v.deleted() {
			return
		}
		v.DeletionTime = nil
	})
}

// Destroy zeroizes payload bytes and marks destruction time (no-op if
// already destroyed). Irreversible.
func (e *Engine) Destroy(ctx context.Context, path string, versions []int) error {
	return e.mutateVersions(ctx, path, versions, func(v *StoredVersion) {
		if v.destroyed() {
			return
		}
		destroyVersion(v)
	})
}

func (e *Engine) mutateVersions(ctx context.Context, path string, versions []int, mutate func(*StoredVersion)) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}

	unlock, err := e.locks.acquire(ctx, path, defaultLockTimeout)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "mutateVersions", err)
	}
	defer unlock()

	secret, err := e.repo.Load(ctx, path)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "mutateVersions", err)
	}
	if secret == nil {
		return ierrors.New(ierrors.NotFound, "mutateVersions", "no secret at path")
	}

	for _, version := range versions {
		v, ok := secret.Versions[version]
		if !ok {
			continue
		}
		mutate(v)
	}

	return e.repo.Save(ctx, secret)
}

// DeleteMetadata removes the secret and all its versions. Terminal.
func (e *Engine) DeleteMetadata(ctx context.Context, path string) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, path); err != nil {
		return ierrors.Wrap(ierrors.Internal, "DeleteMetadata", err)
	}
	return nil
}

// List returns the immediate child entries at pathPrefix.
func (e *Engine) List(ctx context.Context, pathPrefix string) ([]string, error) {
	entries, err := e.repo.List(ctx, strings.Trim(pathPrefix, "/"))
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "List", err)
	}
	return entries, nil
}

// GetMetadata returns a secret's configuration without version payloads.
func (e *Engine) GetMetadata(ctx context.Context, path string) (*Metadata, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	secret, err := e.repo.Load(ctx, path)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "GetMetadata", err)
	}
	if secret == nil {
		return nil, ierrors.New(ierrors.NotFound, "GetMetadata", "no secret at path")
	}
	return &Metadata{
		MaxVersions:        secret.MaxVersions,
		CASRequired:        secret.CASRequired,
		DeleteVersionAfter: secret.DeleteVersionAfter,
		CustomMetadata:     secret.CustomMetadata,
		CurrentVersion:     secret.CurrentVersion,
		OldestVersion:      secret.OldestVersion,
		CreatedAt:          secret.CreatedAt,
	}, nil
}

// UpdateMetadata overwrites a secret's configuration fields.
func (e *Engine) UpdateMetadata(ctx context.Context, path string, maxVersions int, casRequired bool, deleteVersionAfter time.Duration, custom map[string]string) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}

	unlock, err := e.locks.acquire(ctx, path, defaultLockTimeout)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "UpdateMetadata", err)
	}
	defer unlock()

	secret, err := e.repo.Load(ctx, path)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "UpdateMetadata", err)
	}
	if secret == nil {
		return ierrors.New(ierrors.NotFound, "UpdateMetadata", "no secret at path")
	}

	secret.MaxVersions = maxVersions
	secret.CASRequired = casRequired
	secret.DeleteVersionAfter = deleteVersionAfter
	secret.CustomMetadata = custom
	e.enforceMaxVersions(secret)

	return e.repo.Save(ctx, secret)
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0F]
	}
	return string(out)
}

// pathLocks hands out per-path advisory locks with a wait timeout,
// serializing same-path writes in-process instead of relying on optimistic
// CAS at the storage layer.
type pathLocks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newPathLocks() pathLocks {
	return pathLocks{sems: make(map[string]chan struct{})}
}

func (p *pathLocks) acquire(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	p.mu.Lock()
	sem, ok := p.sems[path]
	if !ok {
		sem = make(chan struct{}, 1)
		p.sems[path] = sem
	}
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, ierrors.New(ierrors.Internal, "pathLocks.acquire", "timed out acquiring per-path lock")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
