// Package dbcreds implements the database credentials engine: issuance of
// short-lived, per-request database accounts through pluggable Connectors,
// with lease tracking and guaranteed revocation at expiry.
package dbcreds

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/pkg/cryptosvc"
)

const (
	usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	usernameLength   = 20
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_="
	passwordLength   = 32
)

// DatabaseConfig describes one external database the engine can issue
// credentials against, selected by Plugin for connector dispatch.
type DatabaseConfig struct {
	Name               string
	Plugin             string // "postgres", "mysql", "sqlserver", "mongodb", "oracle", "cassandra", "elasticsearch"
	ConnectionURL      string
	EncryptedAdminUser string
	EncryptedAdminPass string
	MaxOpenConnections int
}

// Role names a creation/revocation statement pair and TTL policy for leases
// issued against a DatabaseConfig.
type Role struct {
	Name               string
	Database           string
	CreationStatement  string
	RevocationStatement string
	DefaultTTL         time.Duration
	MaxTTL             time.Duration
	Renewable          bool
}

// Lease records one issued dynamic credential's lifecycle.
// LastRevokeAttempt paces the sweeper's retries after a connector failure.
type Lease struct {
	ID                string
	Database          string
	Role              string
	Username          string
	EncryptedPassword string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Revoked           bool
	RevokePending     bool
	RevokeAttempts    int
	LastRevokeAttempt time.Time
	LastRevokeError   string
}

func (l *Lease) expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Connector is the pluggable per-database-engine interface:
// verify-connection, create-dynamic-user, revoke-dynamic-user, and
// rotate-root-credentials.
type Connector interface {
	VerifyConnection(ctx context.Context, connectionURL, adminUser, adminPass string) error
	CreateDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, creationStatement, username, password string, ttl time.Duration) error
	RevokeDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, username, revocationStatement string) error
	RotateRootCredentials(ctx context.Context, connectionURL, adminUser, currentPass, newPass string) error
}

// Repository persists DatabaseConfigs, Roles, and Leases. Engine-owned per
// the same pattern as pkg/sealctl.ConfigStore and pkg/kv.Repository.
type Repository interface {
	LoadDatabase(ctx context.Context, name string) (*DatabaseConfig, error)
	SaveDatabase(ctx context.Context, cfg *DatabaseConfig) error
	LoadRole(ctx context.Context, database, role string) (*Role, error)
	SaveRole(ctx context.Context, role *Role) error
	SaveLease(ctx context.Context, lease *Lease) error
	LoadLease(ctx context.Context, id string) (*Lease, error)
	ListExpiredUnrevoked(ctx context.Context, now time.Time) ([]*Lease, error)
}

// AuditRecorder receives one event per audited lease or database lifecycle
// operation — Issue, Revoke, and RotateRootCredentials. pkg/audit's Logger
// satisfies this by duck typing, the same one-directional dependency
// convention pkg/kv.AuditRecorder uses.
type AuditRecorder interface {
	RecordLeaseEvent(ctx context.Context, action, leaseID, database, role string) error
	RecordDatabaseEvent(ctx context.Context, action, database string) error
}

// Engine implements the Database Credentials Engine.
type Engine struct {
	repo       Repository
	crypto     *cryptosvc.Service
	connectors map[string]Connector
	audit      AuditRecorder
}

// New wires an Engine against its repository, the Encryption Service used
// to decrypt admin credentials and encrypt issued lease passwords, a set of
// connectors keyed by plugin tag, and an audit recorder.
func New(repo Repository, crypto *cryptosvc.Service, connectors map[string]Connector, audit AuditRecorder) *Engine {
	return &Engine{repo: repo, crypto: crypto, connectors: connectors, audit: audit}
}

func (e *Engine) recordLeaseEvent(ctx context.Context, op, action, leaseID, database, role string) error {
	if e.audit == nil {
		return nil
	}
	if err := e.audit.RecordLeaseEvent(ctx, action, leaseID, database, role); err != nil {
		return ierrors.Wrap(ierrors.Internal, op, err)
	}
	return nil
}

func (e *Engine) recordDatabaseEvent(ctx context.Context, op, action, database string) error {
	if e.audit == nil {
		return nil
	}
	if err := e.audit.RecordDatabaseEvent(ctx, action, database); err != nil {
		return ierrors.Wrap(ierrors.Internal, op, err)
	}
	return nil
}

func (e *Engine) connectorFor(plugin string) (Connector, error) {
	c, ok := e.connectors[plugin]
	if !ok {
		return nil, ierrors.New(ierrors.Unsupported, "connectorFor", "no connector registered for plugin "+plugin)
	}
	return c, nil
}

// IssueResult is returned exactly once by Issue; the plaintext password is
// never retrievable again after this call returns.
type IssueResult struct {
	LeaseID   string
	Username  string
	Password  string
	ExpiresAt time.Time
}

// Issue creates a dynamic database account: resolve config and role,
// decrypt admin credentials, create the account through the connector with
// engine-generated credentials, persist the lease, and return the
// plaintext password exactly once.
func (e *Engine) Issue(ctx context.Context, database, roleName string, requestedTTL time.Duration) (*IssueResult, error) {
	db, err := e.repo.LoadDatabase(ctx, database)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Issue", err)
	}
	if db == nil {
		return nil, ierrors.New(ierrors.NotFound, "Issue", "no such database config")
	}
	role, err := e.repo.LoadRole(ctx, database, roleName)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Issue", err)
	}
	if role == nil {
		return nil, ierrors.New(ierrors.NotFound, "Issue", "no such role")
	}

	ttl := role.DefaultTTL
	if requestedTTL > 0 {
		if requestedTTL > role.MaxTTL {
			return nil, ierrors.New(ierrors.InvalidArgument, "Issue", "requested TTL exceeds role max-TTL")
		}
		ttl = requestedTTL
	}

	adminUser, err := e.crypto.Decrypt(db.EncryptedAdminUser, []byte(database))
	if err != nil {
		return nil, err
	}
	adminPass, err := e.crypto.Decrypt(db.EncryptedAdminPass, []byte(database))
	if err != nil {
		return nil, err
	}

	connector, err := e.connectorFor(db.Plugin)
	if err != nil {
		return nil, err
	}

	username, err := randomString(usernameAlphabet, usernameLength)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Issue", err)
	}
	password, err := randomString(passwordAlphabet, passwordLength)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Issue", err)
	}

	if err := connector.CreateDynamicUser(ctx, db.ConnectionURL, string(adminUser), string(adminPass), role.CreationStatement, username, password, ttl); err != nil {
		return nil, ierrors.Wrap(ierrors.ConnectorError, "Issue", err)
	}

	encryptedPassword, err := e.crypto.Encrypt([]byte(password), []byte(database+"/"+username))
	if err != nil {
		// Roll back the account we just created on the external system
		// rather than leave an unrecorded lease.
		_ = connector.RevokeDynamicUser(ctx, db.ConnectionURL, string(adminUser), string(adminPass), username, role.RevocationStatement)
		return nil, err
	}

	now := time.Now().UTC()
	lease := &Lease{
		ID:                newLeaseID(),
		Database:          database,
		Role:              roleName,
		Username:          username,
		EncryptedPassword: encryptedPassword,
		IssuedAt:          now,
		ExpiresAt:         now.Add(ttl),
	}
	if err := e.repo.SaveLease(ctx, lease); err != nil {
		_ = connector.RevokeDynamicUser(ctx, db.ConnectionURL, string(adminUser), string(adminPass), username, role.RevocationStatement)
		return nil, ierrors.Wrap(ierrors.Internal, "Issue", err)
	}

	if err := e.recordLeaseEvent(ctx, "Issue", "issue", lease.ID, database, roleName); err != nil {
		_ = connector.RevokeDynamicUser(ctx, db.ConnectionURL, string(adminUser), string(adminPass), username, role.RevocationStatement)
		lease.Revoked = true
		_ = e.repo.SaveLease(ctx, lease)
		return nil, err
	}

	return &IssueResult{LeaseID: lease.ID, Username: username, Password: password, ExpiresAt: lease.ExpiresAt}, nil
}

// Renew extends a lease's expiration by the role's default TTL, never
// exceeding max TTL measured from original issuance.
func (e *Engine) Renew(ctx context.Context, leaseID string) (time.Time, error) {
	lease, err := e.repo.LoadLease(ctx, leaseID)
	if err != nil {
		return time.Time{}, ierrors.Wrap(ierrors.Internal, "Renew", err)
	}
	if lease == nil {
		return time.Time{}, ierrors.New(ierrors.NotFound, "Renew", "no such lease")
	}
	if lease.Revoked {
		return time.Time{}, ierrors.New(ierrors.InvalidArgument, "Renew", "lease already revoked")
	}
	now := time.Now().UTC()
	if lease.expired(now) {
		return time.Time{}, ierrors.New(ierrors.InvalidArgument, "Renew", "lease already expired")
	}

	role, err := e.repo.LoadRole(ctx, lease.Database, lease.Role)
	if err != nil {
		return time.Time{}, ierrors.Wrap(ierrors.Internal, "Renew", err)
	}
	if role == nil {
		return time.Time{}, ierrors.New(ierrors.NotFound, "Renew", "no such role")
	}
	if !role.Renewable {
		return time.Time{}, ierrors.New(ierrors.Unsupported, "Renew", "role does not permit renewal")
	}

	newExpiry := lease.ExpiresAt.Add(role.DefaultTTL)
	if maxExpiry := lease.IssuedAt.Add(role.MaxTTL); newExpiry.After(maxExpiry) {
		newExpiry = maxExpiry
	}
	lease.ExpiresAt = newExpiry
	if err := e.repo.SaveLease(ctx, lease); err != nil {
		return time.Time{}, ierrors.Wrap(ierrors.Internal, "Renew", err)
	}
	return newExpiry, nil
}

// Revoke invokes the connector's revoke-dynamic-user operation for one
// lease and marks it revoked.
func (e *Engine) Revoke(ctx context.Context, leaseID string) error {
	lease, err := e.repo.LoadLease(ctx, leaseID)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "Revoke", err)
	}
	if lease == nil {
		return ierrors.New(ierrors.NotFound, "Revoke", "no such lease")
	}
	if lease.Revoked {
		return nil
	}
	return e.revokeLease(ctx, lease)
}

func (e *Engine) revokeLease(ctx context.Context, lease *Lease) error {
	db, err := e.repo.LoadDatabase(ctx, lease.Database)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "revokeLease", err)
	}
	if db == nil {
		return ierrors.New(ierrors.NotFound, "revokeLease", "no such database config")
	}
	role, err := e.repo.LoadRole(ctx, lease.Database, lease.Role)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "revokeLease", err)
	}
	if role == nil {
		return ierrors.New(ierrors.NotFound, "revokeLease", "no such role")
	}

	adminUser, err := e.crypto.Decrypt(db.EncryptedAdminUser, []byte(lease.Database))
	if err != nil {
		return err
	}
	adminPass, err := e.crypto.Decrypt(db.EncryptedAdminPass, []byte(lease.Database))
	if err != nil {
		return err
	}
	connector, err := e.connectorFor(db.Plugin)
	if err != nil {
		return err
	}

	if err := connector.RevokeDynamicUser(ctx, db.ConnectionURL, string(adminUser), string(adminPass), lease.Username, role.RevocationStatement); err != nil {
		lease.RevokePending = true
		lease.RevokeAttempts++
		lease.LastRevokeAttempt = time.Now().UTC()
		lease.LastRevokeError = err.Error()
		_ = e.repo.SaveLease(ctx, lease)
		return ierrors.Wrap(ierrors.ConnectorError, "revokeLease", err)
	}

	lease.Revoked = true
	lease.RevokePending = false
	lease.LastRevokeError = ""
	if err := e.repo.SaveLease(ctx, lease); err != nil {
		return ierrors.Wrap(ierrors.Internal, "revokeLease", err)
	}
	return e.recordLeaseEvent(ctx, "revokeLease", "revoke", lease.ID, lease.Database, lease.Role)
}

// sweeperMaxAttempts, sweeperBaseBackoff, and sweeperCapBackoff set the
// lease-sweep retry policy: exponential backoff from a 1s base, capped at
// 5 minutes, up to 10 attempts before a lease is surfaced as a failed
// revocation.
const (
	sweeperMaxAttempts = 10
	sweeperBaseBackoff = time.Second
	sweeperCapBackoff  = 5 * time.Minute
)

// SweepExpiredLeases scans for expired, non-revoked leases and invokes
// revocation for each. A lease whose revocation already failed is retried
// only once its backoff window has elapsed. Leases whose connector
// revocation repeatedly fails are returned so the caller can surface them
// for operator attention once sweeperMaxAttempts is reached.
func (e *Engine) SweepExpiredLeases(ctx context.Context) ([]*Lease, error) {
	now := time.Now().UTC()
	expired, err := e.repo.ListExpiredUnrevoked(ctx, now)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "SweepExpiredLeases", err)
	}

	var failed []*Lease
	for _, lease := range expired {
		if lease.RevokeAttempts >= sweeperMaxAttempts {
			failed = append(failed, lease)
			continue
		}
		if lease.RevokeAttempts > 0 && now.Before(lease.LastRevokeAttempt.Add(backoffFor(lease.RevokeAttempts-1))) {
			continue
		}
		if err := e.revokeLease(ctx, lease); err != nil {
			if lease.RevokeAttempts >= sweeperMaxAttempts {
				failed = append(failed, lease)
			}
		}
	}
	return failed, nil
}

// backoffFor returns the retry delay after the given number of failed
// revocation attempts.
func backoffFor(attempt int) time.Duration {
	d := sweeperBaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > sweeperCapBackoff {
			return sweeperCapBackoff
		}
	}
	return d
}

// RotateRootCredentials derives a new admin password, instructs the
// connector to set it, verifies connectivity, and only then persists it.
func (e *Engine) RotateRootCredentials(ctx context.Context, database string) error {
	db, err := e.repo.LoadDatabase(ctx, database)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "RotateRootCredentials", err)
	}
	if db == nil {
		return ierrors.New(ierrors.NotFound, "RotateRootCredentials", "no such database config")
	}
	connector, err := e.connectorFor(db.Plugin)
	if err != nil {
		return err
	}

	adminUser, err := e.crypto.Decrypt(db.EncryptedAdminUser, []byte(database))
	if err != nil {
		return err
	}
	currentPass, err := e.crypto.Decrypt(db.EncryptedAdminPass, []byte(database))
	if err != nil {
		return err
	}

	newPass, err := randomString(passwordAlphabet, passwordLength)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "RotateRootCredentials", err)
	}

	if err := connector.RotateRootCredentials(ctx, db.ConnectionURL, string(adminUser), string(currentPass), newPass); err != nil {
		return ierrors.Wrap(ierrors.ConnectorError, "RotateRootCredentials", err)
	}
	if err := connector.VerifyConnection(ctx, db.ConnectionURL, string(adminUser), newPass); err != nil {
		return ierrors.Wrap(ierrors.ConnectorError, "RotateRootCredentials", err)
	}

	encryptedPass, err := e.crypto.Encrypt([]byte(newPass), []byte(database))
	if err != nil {
		return err
	}
	db.EncryptedAdminPass = encryptedPass
	if err := e.repo.SaveDatabase(ctx, db); err != nil {
		return ierrors.Wrap(ierrors.Internal, "RotateRootCredentials", err)
	}
	return e.recordDatabaseEvent(ctx, "RotateRootCredentials", "rotate_root_credentials", database)
}

// RotateStaticCredential is deliberately unsupported: dynamic credentials
// are the only supported rotation path.
func (e *Engine) RotateStaticCredential(ctx context.Context, database string) error {
	return ierrors.New(ierrors.Unsupported, "RotateStaticCredential", "static-credential rotation is not supported; use dynamic credentials")
}

func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

func newLeaseID() string {
	id, err := randomString("abcdefghijklmnopqrstuvwxyz0123456789", 24)
	if err != nil {
		// crypto/rand failure is unrecoverable; a panic here matches the
		// same posture as the Shamir split's rand.Read failure handling.
		panic(err)
	}
	return id
}
