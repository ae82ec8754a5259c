// Package secure provides memory-safe custody for the master key and the
// in-progress unseal-share accumulator. It wraps memguard so sensitive
// bytes are encrypted at rest in memory, mlock'd against swap, and
// destroyed on last use.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer provides memory-safe storage for a single sensitive value. It
// wraps memguard.Enclave to encrypt secrets at rest in memory and protect
// them from swapping via mlock.
//
// memguard.Enclave has no direct Destroy method; the encrypted payload is
// safe to garbage-collect even without explicit destruction, but Destroy
// still exists here to make reuse-after-destroy an explicit, checked error
// rather than undefined behavior.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	destroyed bool
}

// NewBuffer copies data into a protected enclave. The caller's original
// slice is unaffected; callers that no longer need the plaintext should
// zero it themselves.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer as soon as the plaintext is no longer
// needed.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return memguard.NewBufferFromBytes([]byte{}), nil
	}
	return b.enclave.Open()
}

// Destroy marks the buffer destroyed; further Open calls return an empty
// buffer. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// MasterKeyCell holds the single process-wide master key cell the Seal
// Controller owns. It is nil (absent) while sealed.
type MasterKeyCell struct {
	mu  sync.RWMutex
	buf *Buffer
}

// Install copies key (must be 32 bytes) into the cell, replacing any
// previous value. The caller's slice is not retained.
func (c *MasterKeyCell) Install(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf != nil {
		c.buf.Destroy()
	}
	c.buf = NewBuffer(key)
}

// Present reports whether a master key is currently installed.
func (c *MasterKeyCell) Present() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buf != nil && !c.buf.Destroyed()
}

// Use calls fn with the master key bytes, holding the key open only for
// the duration of fn. Returns false if no key is installed.
func (c *MasterKeyCell) Use(fn func(key []byte) error) (bool, error) {
	c.mu.RLock()
	buf := c.buf
	c.mu.RUnlock()

	if buf == nil || buf.Destroyed() {
		return false, nil
	}

	locked, err := buf.Open()
	if err != nil {
		return true, err
	}
	defer locked.Destroy()

	return true, fn(locked.Bytes())
}

// Clear zeroizes and removes the installed master key.
func (c *MasterKeyCell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf != nil {
		c.buf.Destroy()
		c.buf = nil
	}
}

// ShareAccumulator holds unseal shares submitted so far, deduplicated by
// exact byte content, guarded so no submission observes a partially
// mutated set.
type ShareAccumulator struct {
	mu     sync.Mutex
	shares [][]byte
	seen   map[string]struct{}
}

// NewShareAccumulator returns an empty accumulator.
func NewShareAccumulator() *ShareAccumulator {
	return &ShareAccumulator{seen: make(map[string]struct{})}
}

// Add appends share if it has not been seen before. Returns false if it
// was a duplicate.
func (a *ShareAccumulator) Add(share []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := string(share)
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = struct{}{}
	cp := make([]byte, len(share))
	copy(cp, share)
	a.shares = append(a.shares, cp)
	return true
}

// Len reports the number of distinct shares collected so far.
func (a *ShareAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.shares)
}

// Snapshot returns a copy of the shares collected so far.
func (a *ShareAccumulator) Snapshot() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([][]byte, len(a.shares))
	for i, s := range a.shares {
		cp := make([]byte, len(s))
		copy(cp, s)
		out[i] = cp
	}
	return out
}

// Reset zeroizes and clears all collected shares.
func (a *ShareAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.shares {
		for i := range s {
			s[i] = 0
		}
	}
	a.shares = nil
	a.seen = make(map[string]struct{})
}
