package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL implements dbcreds.Connector against a MySQL/MariaDB server using
// database/sql with the go-sql-driver/mysql driver.
type MySQL struct {
	ConnectTimeout time.Duration
}

// NewMySQL constructs a MySQL connector with the default connector timeout.
func NewMySQL() *MySQL {
	return &MySQL{ConnectTimeout: 30 * time.Second}
}

func (m *MySQL) open(ctx context.Context, connectionURL, user, password string) (*sql.DB, error) {
	dsn := withCredentials(connectionURL, user, password)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// VerifyConnection opens and pings a connection with the given credentials.
func (m *MySQL) VerifyConnection(ctx context.Context, connectionURL, adminUser, adminPass string) error {
	db, err := m.open(ctx, connectionURL, adminUser, adminPass)
	if err != nil {
		return err
	}
	return db.Close()
}

// CreateDynamicUser executes the role's creation statement.
func (m *MySQL) CreateDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, creationStatement, username, password string, ttl time.Duration) error {
	db, err := m.open(ctx, connectionURL, adminUser, adminPass)
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

// RevokeDynamicUser drops the dynamic user.
func (m *MySQL) RevokeDynamicUser(ctx context.Context, connectionURL, adminUser, adminPass, username, revocationStatement string) error {
	db, err := m.open(ctx, connectionURL, adminUser, adminPass)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := revocationStatement
	if stmt == "" {
		stmt = fmt.Sprintf("DROP USER IF EXISTS '%s'@'%%';", username)
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

// RotateRootCredentials changes the admin user's password.
func (m *MySQL) RotateRootCredentials(ctx context.Context, connectionURL, adminUser, currentPass, newPass string) error {
	db, err := m.open(ctx, connectionURL, adminUser, currentPass)
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := fmt.Sprintf("ALTER USER '%s'@'%%' IDENTIFIED BY '%s';", adminUser, newPass)
	_, err = db.ExecContext(ctx, stmt)
	return err
}
