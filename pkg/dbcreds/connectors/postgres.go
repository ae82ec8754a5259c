// Package connectors implements the database credentials engine's
// per-database-engine Connector interface.
package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Postgres implements dbcreds.Connector against a PostgreSQL server using
// database/sql with the lib/pq driver. Template statements use Vault-style
// `{{name}}`/`{{password}}`/`{{expiration}}` placeholders.
type Postgres struct {
	ConnectTimeout time.Duration
}

// NewPostgres constructs a Postgres connector with a bounded per-call
// connect timeout.
func NewPostgres() *Postgres {
	return &Postgres{ConnectTimeout: 30 * time.Second}
}

func (p *Postgres) open(ctx context.Context, connectionURL, user, password string) (*sql.DB, error) {
	dsn := withCredentials(connectionURL, user, password)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// VerifyConnection opens and pings a connection with the given credentials.
func (p *Postgres) VerifyConnection(ctx context.Context, connectionURL, adminUser, adminPass string) error {
	db, err := p.open(ctx, connectionURL, adminUser, adminPass)
	if err != nil {
		return err
	}
	return db.Close()
}

// CreateDynamicUser executes the role's creation statement with the
// generated username/password/expiration substituted in.
func (p *Postgres) CreateDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, creationStatement, username, password string, ttl time.Duration) error {
	db, err := p.open(ctx, connectionURL, adminUser, adminPass)
	if err != nil {
		return err
	}
	defer db.Close()

	expiration := time.Now().UTC().Add(ttl).Format(time.RFC3339)
	stmt := renderTemplate(creationStatement, username, password, expiration)
	for _, part := range splitStatements(stmt) {
		if _, err := db.ExecContext(ctx, part); err != nil {
			return fmt.Errorf("create dynamic user: %w", err)
		}
	}
	return nil
}

// RevokeDynamicUser drops the dynamic user, using the role's revocation
// statement if provided, otherwise a default DROP ROLE.
func (p *Postgres) RevokeDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, username, revocationStatement string) error {
	db, err := p.open(ctx, connectionURL, adminUser, adminPass)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := revocationStatement
	if stmt == "" {
		stmt = fmt.Sprintf(`DROP ROLE IF EXISTS "%s";`, username)
	} else {
		stmt = renderTemplate(stmt, username, "", "")
	}
	for _, part := range splitStatements(stmt) {
		if _, err := db.ExecContext(ctx, part); err != nil {
			return fmt.Errorf("revoke dynamic user: %w", err)
		}
	}
	return nil
}

// RotateRootCredentials alters the admin role's password.
func (p *Postgres) RotateRootCredentials(ctx context.Context, connectionURL, adminUser, currentPass, newPass string) error {
	db, err := p.open(ctx, connectionURL, adminUser, currentPass)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := fmt.Sprintf(`ALTER ROLE "%s" WITH PASSWORD '%s';`, adminUser, newPass)
	_, err = db.ExecContext(ctx, stmt)
	return err
}

func withCredentials(connectionURL, user, password string) string {
	if strings.Contains(connectionURL, "{{username}}") || strings.Contains(connectionURL, "{{password}}") {
		r := strings.NewReplacer("{{username}}", user, "{{password}}", password)
		return r.Replace(connectionURL)
	}
	return connectionURL
}

func renderTemplate(stmt, username, password, expiration string) string {
	r := strings.NewReplacer(
		"{{name}}", username,
		"{{username}}", username,
		"{{password}}", password,
		"{{expiration}}", expiration,
	)
	return r.Replace(stmt)
}

func splitStatements(stmt string) []string {
	var out []string
	for _, part := range strings.Split(stmt, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
