package sealctl

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"sync"

	"github.com/ironseal/ironseal/internal/aead"
	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/kek"
	"github.com/ironseal/ironseal/internal/logging"
	"github.com/ironseal/ironseal/internal/secure"
)

// verificationTokenLength matches MasterKeyLength; the two are concatenated
// before KEK-wrapping.
const verificationTokenLength = MasterKeyLength

const rootTokenSaltLength = 16
const rootTokenLength = 32

// Config is the persisted seal configuration: a single row holding the
// KEK-wrapped master key material and the parameters needed to verify an
// unseal attempt. Zero value represents an uninitialized store.
type Config struct {
	Initialized          bool
	ShareCount           int
	Threshold            int
	WrappedKeyCiphertext []byte
	VerificationHash     []byte
	RootTokenSalt        []byte
	RootTokenHash        []byte
	FailedUnsealCount    int
}

// ConfigStore persists the single-row seal configuration. A concrete
// implementation lives in internal/storage and is injected here.
type ConfigStore interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}

// State reports the controller's current seal status.
type State struct {
	Sealed    bool
	Progress  int
	Threshold int
}

// InitResult is returned exactly once by Initialize: the caller must record
// the shares and root token, since the controller never retains plaintext
// copies of either.
type InitResult struct {
	Shares    []string // base64-encoded
	RootToken string
}

// Controller implements the seal/unseal state machine. All mutation is
// serialized under mu; holders must not perform blocking I/O beyond the
// atomic persistence of the seal configuration.
type Controller struct {
	mu          sync.Mutex
	store       ConfigStore
	kekProvider kek.Provider
	logger      *logging.Logger

	cell        *secure.MasterKeyCell
	accumulator *secure.ShareAccumulator

	cfg *Config
}

// NewController wires a Controller against its configuration store and KEK
// provider. LoadState must be called once at startup before any other
// method.
func NewController(store ConfigStore, kekProvider kek.Provider, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:       store,
		kekProvider: kekProvider,
		logger:      logger,
		cell:        &secure.MasterKeyCell{},
		accumulator: secure.NewShareAccumulator(),
	}
}

// MasterKeyCell exposes the cell the Encryption Service reads from. Sharing
// the cell rather than the Controller itself keeps cryptosvc from depending
// on sealctl.
func (c *Controller) MasterKeyCell() *secure.MasterKeyCell {
	return c.cell
}

// LoadState reads the persisted seal configuration. Must be called once
// before Initialize/Seal/Unseal/Status.
func (c *Controller) LoadState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.store.Load(ctx)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "LoadState", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c.cfg = cfg
	return nil
}

// Status reports the current seal state without mutating anything.
func (c *Controller) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Sealed:    !c.cell.Present(),
		Progress:  c.accumulator.Len(),
		Threshold: c.cfg.Threshold,
	}
}

// Initialize generates a fresh master key, splits it into n shares with
// threshold t, KEK-wraps it alongside a verification token, and issues a
// one-time root token. Fails with AlreadyInitialized if already run.
func (c *Controller) Initialize(ctx context.Context, n, t int) (*InitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Initialized {
		return nil, ierrors.New(ierrors.AlreadyInitialized, "Initialize", "seal store is already initialized")
	}

	masterKey := make([]byte, MasterKeyLength)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}
	verificationToken := make([]byte, verificationTokenLength)
	if _, err := rand.Read(verificationToken); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}

	shares, err := Split(masterKey, n, t)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidArgument, "Initialize", err)
	}

	kekBytes, err := c.kekProvider.Fetch(ctx)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}

	plaintext := append(append([]byte{}, masterKey...), verificationToken...)
	ciphertext, err := aead.Seal(kekBytes, plaintext, nil)
	zeroize(plaintext)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}

	verificationHash := sha256.Sum256(verificationToken)
	zeroize(verificationToken)

	rootToken := make([]byte, rootTokenLength)
	if _, err := rand.Read(rootToken); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}
	salt := make([]byte, rootTokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}
	rootTokenHash := hashSaltedToken(salt, rootToken)

	cfg := &Config{
		Initialized:          true,
		ShareCount:           n,
		Threshold:            t,
		WrappedKeyCiphertext: ciphertext,
		VerificationHash:     verificationHash[:],
		RootTokenSalt:        salt,
		RootTokenHash:        rootTokenHash,
	}
	if err := c.store.Save(ctx, cfg); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Initialize", err)
	}
	c.cfg = cfg

	result := &InitResult{
		Shares:    make([]string, len(shares)),
		RootToken: base64.StdEncoding.EncodeToString(rootToken),
	}
	for i, s := range shares {
		result.Shares[i] = base64.StdEncoding.EncodeToString(s)
		zeroize(s)
	}
	zeroize(masterKey)
	zeroize(rootToken)

	c.logger.Info("seal store initialized: n=%d t=%d", n, t)
	return result, nil
}

// Seal zeroizes the in-memory master key and clears any partial unseal
// progress.
func (c *Controller) Seal(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cell.Clear()
	c.accumulator.Reset()
	c.logger.Info("seal store sealed")
	return nil
}

// Unseal submits one base64-encoded share. Returns the resulting state;
// once the threshold is reached the master key is installed and Sealed is
// false.
func (c *Controller) Unseal(ctx context.Context, encodedShare string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Initialized {
		return State{}, ierrors.New(ierrors.NotInitialized, "Unseal", "seal store is not initialized")
	}
	if c.cell.Present() {
		return State{Sealed: false}, nil
	}

	share, err := base64.StdEncoding.DecodeString(encodedShare)
	if err != nil {
		return State{}, ierrors.Wrap(ierrors.InvalidShare, "Unseal", err)
	}
	if len(share) != ShareLength || share[0] == 0 {
		return State{}, ierrors.New(ierrors.InvalidShare, "Unseal", "share must be 33 bytes with a nonzero x-coordinate")
	}
	if !c.accumulator.Add(share) {
		return State{}, ierrors.New(ierrors.InvalidShare, "Unseal", "share already submitted")
	}

	progress := c.accumulator.Len()
	if progress < c.cfg.Threshold {
		return State{Sealed: true, Progress: progress, Threshold: c.cfg.Threshold}, nil
	}

	reconstructed, err := Combine(c.accumulator.Snapshot())
	if err != nil {
		c.accumulator.Reset()
		c.recordFailedUnseal(ctx)
		return State{}, ierrors.Wrap(ierrors.VerificationFailed, "Unseal", err)
	}
	defer zeroize(reconstructed)

	kekBytes, err := c.kekProvider.Fetch(ctx)
	if err != nil {
		c.accumulator.Reset()
		c.recordFailedUnseal(ctx)
		return State{}, ierrors.Wrap(ierrors.Internal, "Unseal", err)
	}

	plaintext, err := aead.Open(kekBytes, c.cfg.WrappedKeyCiphertext, nil)
	if err != nil {
		c.accumulator.Reset()
		c.recordFailedUnseal(ctx)
		return State{}, ierrors.New(ierrors.VerificationFailed, "Unseal", "failed to decrypt stored master key under the configured KEK")
	}
	defer zeroize(plaintext)

	if len(plaintext) != MasterKeyLength+verificationTokenLength {
		c.accumulator.Reset()
		c.recordFailedUnseal(ctx)
		return State{}, ierrors.New(ierrors.VerificationFailed, "Unseal", "stored master key material has unexpected length")
	}
	storedMasterKey := plaintext[:MasterKeyLength]
	verificationToken := plaintext[MasterKeyLength:]
	verificationHash := sha256.Sum256(verificationToken)

	masterKeyMatches := subtle.ConstantTimeCompare(reconstructed, storedMasterKey) == 1
	tokenMatches := subtle.ConstantTimeCompare(verificationHash[:], c.cfg.VerificationHash) == 1
	if !masterKeyMatches || !tokenMatches {
		c.accumulator.Reset()
		c.recordFailedUnseal(ctx)
		return State{}, ierrors.New(ierrors.VerificationFailed, "Unseal", "reconstructed master key failed verification")
	}

	c.cell.Install(storedMasterKey)
	c.accumulator.Reset()
	c.logger.Info("seal store unsealed")
	return State{Sealed: false}, nil
}

// VerifyRootToken reports whether token matches the root token issued at
// Initialize.
func (c *Controller) VerifyRootToken(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Initialized {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	got := hashSaltedToken(c.cfg.RootTokenSalt, raw)
	return subtle.ConstantTimeCompare(got, c.cfg.RootTokenHash) == 1
}

// recordFailedUnseal increments the failed-unseal counter and persists it
// immediately so a process restart does not silently reset an operator's
// visibility into repeated failed unseal attempts. Persistence failure is
// logged but does not itself fail the Unseal call, which already has a
// VerificationFailed or Internal error of its own to return.
func (c *Controller) recordFailedUnseal(ctx context.Context) {
	c.cfg.FailedUnsealCount++
	if err := c.store.Save(ctx, c.cfg); err != nil {
		c.logger.Error("failed to persist failed-unseal count: %v", err)
	}
}

func hashSaltedToken(salt, token []byte) []byte {
	h := sha256.Sum256(append(append([]byte{}, salt...), token...))
	return h[:]
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
