// Package storage provides the concrete Repository implementations every
// engine's engine-owned interface is tested and run against: an in-memory
// store for unit tests and local/dev use, and a SQL-backed store (sql.go)
// over the relational schema.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ironseal/ironseal/pkg/audit"
	"github.com/ironseal/ironseal/pkg/authz"
	"github.com/ironseal/ironseal/pkg/dbcreds"
	"github.com/ironseal/ironseal/pkg/kv"
	"github.com/ironseal/ironseal/pkg/sealctl"
	"github.com/ironseal/ironseal/pkg/transit"
)

// Memory is an in-process store satisfying every engine's Repository
// interface. Safe for concurrent use; intended for tests, local
// development, and the CLI's ephemeral mode.
type Memory struct {
	mu sync.RWMutex

	seal *sealctl.Config

	secrets map[string]*kv.StoredSecret

	transitKeys map[string]*transit.Key

	databases map[string]*dbcreds.DatabaseConfig
	roles     map[string]*dbcreds.Role // keyed by database+"/"+role
	leases    map[string]*dbcreds.Lease

	rbacAssignments map[string][]authz.Role
	policies        []*authz.AccessPolicy

	auditRecords []*audit.Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		secrets:         make(map[string]*kv.StoredSecret),
		transitKeys:     make(map[string]*transit.Key),
		databases:       make(map[string]*dbcreds.DatabaseConfig),
		roles:           make(map[string]*dbcreds.Role),
		leases:          make(map[string]*dbcreds.Lease),
		rbacAssignments: make(map[string][]authz.Role),
	}
}

// --- sealctl.ConfigStore ---

func (m *Memory) Load(_ context.Context) (*sealctl.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.seal == nil {
		return nil, nil
	}
	cp := *m.seal
	return &cp, nil
}

func (m *Memory) Save(_ context.Context, cfg *sealctl.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.seal = &cp
	return nil
}

// --- kv.Repository ---

func (m *Memory) LoadSecret(_ context.Context, path string) (*kv.StoredSecret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[path]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *Memory) SaveSecret(_ context.Context, secret *kv.StoredSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[secret.Path] = secret
	return nil
}

func (m *Memory) ListSecrets(_ context.Context, pathPrefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for p := range m.secrets {
		if pathPrefix != "" && !strings.HasPrefix(p, pathPrefix+"/") && p != pathPrefix {
			continue
		}
		rest := strings.TrimPrefix(p, pathPrefix)
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			seen[rest[:idx]+"/"] = struct{}{}
		} else {
			seen[rest] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for entry := range seen {
		out = append(out, entry)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeleteSecret(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, path)
	return nil
}

// kvRepo adapts Memory's Load/Save/List/Delete-Secret methods to
// pkg/kv.Repository's unqualified names, since sealctl.ConfigStore and
// kv.Repository both declare a Load/Save pair with different signatures
// and Go does not allow Memory to implement both under the same method
// names.
type kvRepo struct{ m *Memory }

// KVRepository adapts m to pkg/kv.Repository.
func KVRepository(m *Memory) kv.Repository { return kvRepo{m} }

func (r kvRepo) Load(ctx context.Context, path string) (*kv.StoredSecret, error) {
	return r.m.LoadSecret(ctx, path)
}
func (r kvRepo) Save(ctx context.Context, secret *kv.StoredSecret) error {
	return r.m.SaveSecret(ctx, secret)
}
func (r kvRepo) List(ctx context.Context, pathPrefix string) ([]string, error) {
	return r.m.ListSecrets(ctx, pathPrefix)
}
func (r kvRepo) Delete(ctx context.Context, path string) error {
	return r.m.DeleteSecret(ctx, path)
}

// --- transit.Repository ---

type transitRepo struct{ m *Memory }

// TransitRepository adapts m to pkg/transit.Repository.
func TransitRepository(m *Memory) transit.Repository { return transitRepo{m} }

func (r transitRepo) Load(_ context.Context, name string) (*transit.Key, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	k, ok := r.m.transitKeys[name]
	if !ok {
		return nil, nil
	}
	return k, nil
}

func (r transitRepo) Save(_ context.Context, key *transit.Key) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.transitKeys[key.Name] = key
	return nil
}

func (r transitRepo) Delete(_ context.Context, name string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.transitKeys, name)
	return nil
}

func (r transitRepo) ListNames(_ context.Context) ([]string, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	names := make([]string, 0, len(r.m.transitKeys))
	for name := range r.m.transitKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- dbcreds.Repository ---

type dbcredsRepo struct{ m *Memory }

// DBCredsRepository adapts m to pkg/dbcreds.Repository.
func DBCredsRepository(m *Memory) dbcreds.Repository { return dbcredsRepo{m} }

func roleKey(database, role string) string { return database + "/" + role }

func (r dbcredsRepo) LoadDatabase(_ context.Context, name string) (*dbcreds.DatabaseConfig, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	cfg, ok := r.m.databases[name]
	if !ok {
		return nil, nil
	}
	return cfg, nil
}

func (r dbcredsRepo) SaveDatabase(_ context.Context, cfg *dbcreds.DatabaseConfig) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.databases[cfg.Name] = cfg
	return nil
}

func (r dbcredsRepo) LoadRole(_ context.Context, database, role string) (*dbcreds.Role, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	rl, ok := r.m.roles[roleKey(database, role)]
	if !ok {
		return nil, nil
	}
	return rl, nil
}

func (r dbcredsRepo) SaveRole(_ context.Context, role *dbcreds.Role) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.roles[roleKey(role.Database, role.Name)] = role
	return nil
}

func (r dbcredsRepo) SaveLease(_ context.Context, lease *dbcreds.Lease) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.leases[lease.ID] = lease
	return nil
}

func (r dbcredsRepo) LoadLease(_ context.Context, id string) (*dbcreds.Lease, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	l, ok := r.m.leases[id]
	if !ok {
		return nil, nil
	}
	return l, nil
}

func (r dbcredsRepo) ListExpiredUnrevoked(_ context.Context, now time.Time) ([]*dbcreds.Lease, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*dbcreds.Lease
	for _, l := range r.m.leases {
		if !l.Revoked && now.After(l.ExpiresAt) {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- authz.RBACStore / authz.ABACStore ---

type authzRBACStore struct{ m *Memory }

// AuthzRBACStore adapts m to pkg/authz.RBACStore.
func AuthzRBACStore(m *Memory) authz.RBACStore { return authzRBACStore{m} }

func (r authzRBACStore) RolesForSubject(_ context.Context, subject string) ([]authz.Role, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	return r.m.rbacAssignments[subject], nil
}

// AssignRole grants subject a Role. Bootstrap/admin helper, not part of the
// RBACStore interface: production callers manage assignment through a
// higher-level identity collaborator.
func (m *Memory) AssignRole(subject string, role authz.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rbacAssignments[subject] = append(m.rbacAssignments[subject], role)
}

type authzABACStore struct{ m *Memory }

// AuthzABACStore adapts m to pkg/authz.ABACStore.
func AuthzABACStore(m *Memory) authz.ABACStore { return authzABACStore{m} }

func (r authzABACStore) ListPolicies(_ context.Context) ([]*authz.AccessPolicy, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]*authz.AccessPolicy, len(r.m.policies))
	copy(out, r.m.policies)
	return out, nil
}

// AddPolicy registers an AccessPolicy. Bootstrap/admin helper.
func (m *Memory) AddPolicy(p *authz.AccessPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = append(m.policies, p)
}

// --- audit.Repository ---

type auditRepo struct{ m *Memory }

// AuditRepository adapts m to pkg/audit.Repository.
func AuditRepository(m *Memory) audit.Repository { return auditRepo{m} }

func (r auditRepo) LastHash(_ context.Context, shard int) (string, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for i := len(r.m.auditRecords) - 1; i >= 0; i-- {
		if r.m.auditRecords[i].Shard == shard {
			return r.m.auditRecords[i].CurrentHash, nil
		}
	}
	return "", nil
}

func (r auditRepo) Append(_ context.Context, rec *audit.Record) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.auditRecords = append(r.m.auditRecords, rec)
	return nil
}

func (r auditRepo) ListRange(_ context.Context, shard int, from, to time.Time) ([]*audit.Record, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*audit.Record
	for _, rec := range r.m.auditRecords {
		if rec.Shard != shard {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r auditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	kept := r.m.auditRecords[:0]
	removed := 0
	for _, rec := range r.m.auditRecords {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.m.auditRecords = kept
	return removed, nil
}
