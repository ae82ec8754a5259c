// Package commands wires ironseal's engines behind a cobra command tree:
// one file per command family, a shared bootstrap context threaded through
// via closures over a *App, and user-facing errors surfaced through RunE
// rather than panics.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/ironseal/ironseal/internal/config"
	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/incident"
	"github.com/ironseal/ironseal/internal/kek"
	"github.com/ironseal/ironseal/internal/logging"
	"github.com/ironseal/ironseal/internal/storage"
	"github.com/ironseal/ironseal/pkg/audit"
	"github.com/ironseal/ironseal/pkg/authz"
	"github.com/ironseal/ironseal/pkg/cryptosvc"
	"github.com/ironseal/ironseal/pkg/dbcreds"
	"github.com/ironseal/ironseal/pkg/dbcreds/connectors"
	"github.com/ironseal/ironseal/pkg/kv"
	"github.com/ironseal/ironseal/pkg/sealctl"
	"github.com/ironseal/ironseal/pkg/transit"
)

// App is the shared, lazily-bootstrapped handle every subcommand closes
// over. Its fields are populated once, by Bootstrap, the first time a
// command that needs them runs; "init" and "version"-style commands never
// trigger it.
type App struct {
	ConfigPath string
	DataDir    string
	Debug      bool
	Subject    string

	Logger *logging.Logger

	store     *storage.Memory
	def       *config.Definition
	Seal      *sealctl.Controller
	Crypto    *cryptosvc.Service
	Audit     *audit.Logger
	Authz     *authz.Engine
	KV        *kv.Engine
	Transit   *transit.Engine
	DBCreds   *dbcreds.Engine
	Incidents *incident.Manager
}

// NewApp returns an App with default paths; call Bootstrap before using
// any of its engines.
func NewApp() *App {
	return &App{ConfigPath: "ironseal.yaml", DataDir: "."}
}

// Bootstrap loads the YAML configuration, builds the in-memory store, and
// wires every engine against it. Idempotent: a second call is a no-op.
func (a *App) Bootstrap() error {
	if a.Logger == nil {
		a.Logger = logging.New(a.Debug)
	}
	if a.store != nil {
		return nil
	}

	def, err := config.Load(a.ConfigPath)
	if err != nil {
		return err
	}
	a.def = def

	kekProvider, err := buildKEKProvider(context.Background(), def.Seal)
	if err != nil {
		return err
	}

	a.store = storage.NewMemory()
	a.Seal = sealctl.NewController(a.store, kekProvider, a.Logger.With("component", "sealctl"))
	a.Crypto = cryptosvc.New(a.Seal.MasterKeyCell())

	a.Audit = audit.New(
		storage.AuditRepository(a.store),
		audit.WithRetention(def.Audit.RetentionDuration()),
		audit.WithShardCount(maxInt(def.Audit.Shards, 1)),
	)

	a.Authz = authz.New(storage.AuthzRBACStore(a.store), storage.AuthzABACStore(a.store), authz.WithCache(30*time.Second))
	a.KV = kv.New(storage.KVRepository(a.store), a.Crypto, a.Audit)
	a.Transit = transit.New(storage.TransitRepository(a.store), a.Crypto, a.Audit)
	a.DBCreds = dbcreds.New(storage.DBCredsRepository(a.store), a.Crypto, connectorsByPlugin(), a.Audit)
	a.Incidents = incident.NewManager(a.DataDir)

	if err := a.Seal.LoadState(context.Background()); err != nil {
		return err
	}
	return seedAuthz(a, def)
}

// Authorize gates one engine operation behind the authorization engine,
// evaluating it for a.Subject (set by the CLI's --as flag) and denying
// fail-closed on anything but an explicit Allow: NotApplicable is treated
// as Deny, and the same Unauthorized error is returned whether the
// resource doesn't exist or the subject simply lacks permission on it, so
// a denial never discloses which.
func (a *App) Authorize(ctx context.Context, action, resource string) error {
	decision, err := a.Authz.Evaluate(ctx, authz.Request{
		Subject:  a.Subject,
		Action:   action,
		Resource: resource,
	})
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "Authorize", err)
	}
	if decision != authz.Allow {
		return ierrors.New(ierrors.Unauthorized, "Authorize", "subject "+a.Subject+" is not authorized for "+action+" on "+resource)
	}
	return nil
}

// EnsureDatabasesSeeded loads the bootstrap YAML's database/role
// declarations into the store. Deferred out of Bootstrap because it
// encrypts each admin password under the Encryption Service, which
// requires an unsealed master key; dbcreds commands call this after
// confirming the controller reports unsealed.
func (a *App) EnsureDatabasesSeeded(ctx context.Context) error {
	return seedDatabases(ctx, a, a.def)
}

// buildKEKProvider selects and constructs the KEK source named by a
// config.SealConfig, dispatching to one of internal/kek's backends by
// name. "env" is the default and requires no options.
func buildKEKProvider(ctx context.Context, cfg config.SealConfig) (kek.Provider, error) {
	switch cfg.KEKProvider {
	case "", "env":
		return kek.NewEnvProvider(cfg.Options["var"]), nil
	case "aws-secretsmanager":
		return kek.NewAWSSecretsManagerProvider(ctx, cfg.Options["secret_id"], cfg.Options["region"])
	case "aws-ssm":
		return kek.NewAWSSSMProvider(ctx, cfg.Options["parameter_name"], cfg.Options["region"])
	case "azure-keyvault":
		return kek.NewAzureKeyVaultProvider(cfg.Options["vault_url"], cfg.Options["secret_name"])
	case "gcp-secretmanager":
		return kek.NewGCPSecretManagerProvider(ctx, cfg.Options["secret_version_name"])
	case "akeyless":
		return kek.NewAkeylessProvider(cfg.Options["gateway_url"], cfg.Options["access_id"], cfg.Options["access_key"], cfg.Options["path"]), nil
	case "keyring":
		return kek.NewKeyringProvider(cfg.Options["service"], cfg.Options["account"]), nil
	default:
		return nil, ierrors.New(ierrors.InvalidArgument, "buildKEKProvider", fmt.Sprintf("unknown kek_provider %q", cfg.KEKProvider))
	}
}

// seedDatabases loads the bootstrap YAML's database/role declarations into
// the store, encrypting each admin password under the Encryption Service.
// Safe to call more than once per process: subsequent calls are a no-op
// once at least one database is present.
func seedDatabases(ctx context.Context, a *App, def *config.Definition) error {
	if len(def.Databases) == 0 {
		return nil
	}
	if existing, _ := storage.DBCredsRepository(a.store).LoadDatabase(ctx, def.Databases[0].Name); existing != nil {
		return nil
	}

	for _, d := range def.Databases {
		// AAD is the bare database name, matching what Issue/revokeLease
		// supply when they decrypt these fields.
		userCipher, err := a.Crypto.Encrypt([]byte(d.AdminUsername), []byte(d.Name))
		if err != nil {
			return err
		}
		passCipher, err := a.Crypto.Encrypt([]byte(d.AdminPassword), []byte(d.Name))
		if err != nil {
			return err
		}
		if err := storage.DBCredsRepository(a.store).SaveDatabase(ctx, &dbcreds.DatabaseConfig{
			Name:               d.Name,
			Plugin:             d.Plugin,
			ConnectionURL:      d.ConnectionURL,
			EncryptedAdminUser: userCipher,
			EncryptedAdminPass: passCipher,
			MaxOpenConnections: d.MaxOpenConnections,
		}); err != nil {
			return err
		}
	}

	for _, r := range def.Roles {
		defaultTTL, err := r.DefaultTTLDuration()
		if err != nil {
			return ierrors.Wrapf(ierrors.InvalidArgument, "config.seed", err, "role %s: invalid default_ttl", r.Name)
		}
		maxTTL, err := r.MaxTTLDuration()
		if err != nil {
			return ierrors.Wrapf(ierrors.InvalidArgument, "config.seed", err, "role %s: invalid max_ttl", r.Name)
		}
		if err := storage.DBCredsRepository(a.store).SaveRole(ctx, &dbcreds.Role{
			Name:                r.Name,
			Database:            r.Database,
			CreationStatement:   r.CreationStatement,
			RevocationStatement: r.RevocationStatement,
			DefaultTTL:          defaultTTL,
			MaxTTL:              maxTTL,
			Renewable:           r.Renewable,
		}); err != nil {
			return err
		}
	}
	return nil
}

// seedAuthz loads the bootstrap YAML's RBAC role and ABAC policy
// declarations into the store. Neither requires the master key, so this
// runs unconditionally during Bootstrap, unlike seedDatabases.
func seedAuthz(a *App, def *config.Definition) error {
	for _, rd := range def.RBACRoles {
		perms := make([]authz.Permission, 0, len(rd.Permissions))
		for _, p := range rd.Permissions {
			perms = append(perms, authz.Permission{Resource: p.Resource, Action: p.Action})
		}
		a.store.AssignRole(rd.Name, authz.Role{
			Name:        rd.Name,
			Description: rd.Description,
			System:      rd.System,
			Priority:    rd.Priority,
			Permissions: perms,
		})
	}

	for _, pd := range def.Policies {
		policy, err := authz.PolicyFromDefinition(pd.Name, pd.Effect, pd.SubjectSelector, pd.ResourceSelector, pd.Actions, pd.Condition, pd.Priority, pd.Enabled)
		if err != nil {
			return ierrors.Wrapf(ierrors.InvalidArgument, "config.seed", err, "policy %s", pd.Name)
		}
		a.store.AddPolicy(policy)
	}

	return nil
}

// connectorsByPlugin returns the set of dbcreds.Connectors this build ships
// with, keyed by the DatabaseConfig.Plugin tag that selects them. postgres
// and mysql are backed by real database/sql drivers; the remaining plugin
// tags (sqlserver, mongodb, oracle, cassandra, elasticsearch) ship without
// a driver, so each gets a named Unsupported stub that fails every
// operation with ConnectorError rather than silently having no connector
// registered.
func connectorsByPlugin() map[string]dbcreds.Connector {
	return map[string]dbcreds.Connector{
		"postgres":      connectors.NewPostgres(),
		"mysql":         connectors.NewMySQL(),
		"sqlserver":     connectors.NewUnsupported("sqlserver"),
		"mongodb":       connectors.NewUnsupported("mongodb"),
		"oracle":        connectors.NewUnsupported("oracle"),
		"cassandra":     connectors.NewUnsupported("cassandra"),
		"elasticsearch": connectors.NewUnsupported("elasticsearch"),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// exitErr formats err for the CLI's top-level error handler, prefixing
// engine errors with their Kind so operators can tell a Sealed failure
// from a NotFound one at a glance.
func exitErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := ierrors.Of(err); kind != "" {
		return fmt.Errorf("%s: [%s] %w", op, kind, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
