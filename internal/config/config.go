// Package config loads ironseal's bootstrap configuration: the database
// connections and roles the Database Credentials Engine starts with, the
// audit retention window, and the KEK backend to wire at startup.
package config

import (
	"fmt"
	"os"
	"time"

	ierrors "github.com/ironseal/ironseal/internal/errors"
	"gopkg.in/yaml.v3"
)

// Definition is the top-level ironseal.yaml structure.
type Definition struct {
	Version int `yaml:"version"`

	Seal SealConfig `yaml:"seal"`

	Audit AuditConfig `yaml:"audit"`

	Databases []DatabaseDefinition `yaml:"databases,omitempty"`
	Roles     []RoleDefinition     `yaml:"roles,omitempty"`

	RBACRoles []RBACRoleDefinition `yaml:"rbac_roles,omitempty"`
	Policies  []PolicyDefinition   `yaml:"policies,omitempty"`
}

// SealConfig names the KEK backend and its backend-specific options.
type SealConfig struct {
	KEKProvider string            `yaml:"kek_provider"` // "env", "aws", "azure", "gcp", "akeyless", "keyring"
	Options     map[string]string `yaml:"options,omitempty"`
}

// AuditConfig carries the audit log's retention window and shard count.
type AuditConfig struct {
	RetentionDays int `yaml:"retention_days,omitempty"`
	Shards        int `yaml:"shards,omitempty"`
}

// RetentionDuration returns RetentionDays as a time.Duration, defaulting
// to the ~7-year window when unset.
func (a AuditConfig) RetentionDuration() time.Duration {
	if a.RetentionDays <= 0 {
		return 2555 * 24 * time.Hour
	}
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// DatabaseDefinition bootstraps one pkg/dbcreds.DatabaseConfig. The admin
// password is plaintext only in this file (operator-supplied bootstrap
// input); the loader's caller is responsible for encrypting it under the
// encryption service before persisting.
type DatabaseDefinition struct {
	Name               string `yaml:"name"`
	Plugin             string `yaml:"plugin"`
	ConnectionURL      string `yaml:"connection_url"`
	AdminUsername      string `yaml:"admin_username"`
	AdminPassword      string `yaml:"admin_password"`
	MaxOpenConnections int    `yaml:"max_open_connections,omitempty"`
}

// RoleDefinition bootstraps one pkg/dbcreds.Role.
type RoleDefinition struct {
	Database            string `yaml:"database"`
	Name                 string `yaml:"name"`
	CreationStatement    string `yaml:"creation_statement"`
	RevocationStatement  string `yaml:"revocation_statement,omitempty"`
	RollbackStatement    string `yaml:"rollback_statement,omitempty"`
	DefaultTTL           string `yaml:"default_ttl"`
	MaxTTL               string `yaml:"max_ttl"`
	Renewable            bool   `yaml:"renewable,omitempty"`
}

// DefaultTTLDuration parses DefaultTTL, defaulting to one hour.
func (r RoleDefinition) DefaultTTLDuration() (time.Duration, error) {
	return parseDurationOrDefault(r.DefaultTTL, time.Hour)
}

// MaxTTLDuration parses MaxTTL, defaulting to 24 hours.
func (r RoleDefinition) MaxTTLDuration() (time.Duration, error) {
	return parseDurationOrDefault(r.MaxTTL, 24*time.Hour)
}

func parseDurationOrDefault(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// RBACRoleDefinition bootstraps one pkg/authz.Role.
type RBACRoleDefinition struct {
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description,omitempty"`
	System      bool                     `yaml:"system,omitempty"`
	Priority    int                      `yaml:"priority,omitempty"`
	Permissions []RBACPermissionDefinition `yaml:"permissions"`
}

// RBACPermissionDefinition bootstraps one pkg/authz.Permission.
type RBACPermissionDefinition struct {
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

// PolicyDefinition bootstraps one pkg/authz.AccessPolicy. Selectors and
// conditions are left as a raw expression map here; schema validation and
// compilation into expression trees happen once at load time rather than
// on every request.
type PolicyDefinition struct {
	Name             string         `yaml:"name"`
	Effect           string         `yaml:"effect"` // "allow" | "deny"
	SubjectSelector  map[string]any `yaml:"subject_selector,omitempty"`
	ResourceSelector map[string]any `yaml:"resource_selector,omitempty"`
	Actions          []string       `yaml:"actions,omitempty"`
	Condition        map[string]any `yaml:"condition,omitempty"`
	Priority         int            `yaml:"priority,omitempty"`
	Enabled          bool           `yaml:"enabled"`
}

// Load reads and parses an ironseal.yaml bootstrap file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ierrors.New(ierrors.NotFound, "config.Load", fmt.Sprintf("configuration file not found: %s", path))
		}
		return nil, ierrors.Wrap(ierrors.Internal, "config.Load", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, ierrors.Wrapf(ierrors.InvalidArgument, "config.Load", err, "invalid YAML syntax in %s", path)
	}
	if def.Version != 1 {
		return nil, ierrors.New(ierrors.InvalidArgument, "config.Load", fmt.Sprintf("unsupported configuration version %d (expected 1)", def.Version))
	}
	if def.Seal.KEKProvider == "" {
		return nil, ierrors.New(ierrors.InvalidArgument, "config.Load", "seal.kek_provider is required")
	}
	return &def, nil
}
