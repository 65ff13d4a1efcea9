// SPDX-License-Identifier: Apache-2.0

// Package db opens connections to the MySQL and PostgreSQL backends and
// provides the small set of queries the conversion and upgrade flows need.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// Credentials hold the application database account.
type Credentials struct {
	User     string
	Password string
}

// LoadCredentials reads the database account from the credential files the
// plugin drops at install time. Either file missing or empty is a hard stop:
// nothing downstream can authenticate without them.
func LoadCredentials(userFile, passwordFile string) (Credentials, error) {
	user, err := readSecretFile(userFile)
	if err != nil {
		return Credentials{}, core.MissingCredentials.Wrap(err, "database user file %s", userFile)
	}
	password, err := readSecretFile(passwordFile)
	if err != nil {
		return Credentials{}, core.MissingCredentials.Wrap(err, "database password file %s", passwordFile)
	}
	return Credentials{User: user, Password: password}, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return "", errorx.IllegalState.New("file %s is empty", path)
	}
	return val, nil
}

// Target identifies one database to connect to.
type Target struct {
	Backend  core.BackendType
	Host     string
	Port     int
	Database string
	Creds    Credentials
}

// DSN renders the driver-specific connection string.
func (t Target) DSN() (driver, dsn string, err error) {
	switch t.Backend {
	case core.BackendMySQL:
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?multiStatements=true",
			t.Creds.User, t.Creds.Password, t.Host, t.Port, t.Database), nil
	case core.BackendPostgreSQL:
		return "pgx", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			t.Creds.User, t.Creds.Password, t.Host, t.Port, t.Database), nil
	default:
		return "", "", errorx.IllegalArgument.New("no driver for backend %q", t.Backend)
	}
}

// Open opens a connection pool for the target. The pool is lazy; use
// WaitReady to confirm the server actually accepts connections.
func Open(t Target) (*sql.DB, error) {
	driver, dsn, err := t.DSN()
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errorx.IllegalState.Wrap(err, "failed to open %s connection", t.Backend)
	}
	return conn, nil
}

// WaitReady pings the database until it answers or attempts run out. Service
// start returns before the server accepts connections, so every post-start
// step goes through here.
func WaitReady(ctx context.Context, conn *sql.DB, attempts int, interval time.Duration, log *zerolog.Logger) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = conn.PingContext(ctx); lastErr == nil {
			return nil
		}
		log.Debug().Err(lastErr).Int("attempt", i+1).Int("max", attempts).
			Msg("database not ready yet")

		select {
		case <-ctx.Done():
			return errorx.TimeoutElapsed.Wrap(ctx.Err(), "interrupted while waiting for database")
		case <-time.After(interval):
		}
	}
	return errorx.TimeoutElapsed.Wrap(lastErr, "database not ready after %d attempts", attempts)
}

// TableExists reports whether the named table exists in the connected
// PostgreSQL database.
func TableExists(ctx context.Context, conn *sql.DB, table string) (bool, error) {
	var regclass sql.NullString
	err := conn.QueryRowContext(ctx, "SELECT to_regclass($1)", table).Scan(&regclass)
	if err != nil {
		return false, errorx.IllegalState.Wrap(err, "failed to check table %s", table)
	}
	return regclass.Valid, nil
}

// HasTable reports whether the named table exists on the target, regardless
// of which backend the target points at.
func HasTable(ctx context.Context, conn *sql.DB, t Target, table string) (bool, error) {
	switch t.Backend {
	case core.BackendPostgreSQL:
		return TableExists(ctx, conn, table)
	case core.BackendMySQL:
		var n int
		err := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
			t.Database, table).Scan(&n)
		if err != nil {
			return false, errorx.IllegalState.Wrap(err, "failed to check table %s", table)
		}
		return n > 0, nil
	default:
		return false, errorx.IllegalArgument.New("no table lookup for backend %q", t.Backend)
	}
}

// TableCount returns the number of user tables in the public schema.
func TableCount(ctx context.Context, conn *sql.DB) (int, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public'").Scan(&n)
	if err != nil {
		return 0, errorx.IllegalState.Wrap(err, "failed to count tables")
	}
	return n, nil
}

// EnsureRole creates the application role when it does not exist and resets
// its password when it does, so repeated runs converge on the same account.
func EnsureRole(ctx context.Context, admin *sql.DB, creds Credentials) error {
	var exists bool
	err := admin.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", creds.User).Scan(&exists)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to look up role %s", creds.User)
	}

	verb := "CREATE"
	if exists {
		verb = "ALTER"
	}
	// Role names and passwords cannot be bind parameters in DDL.
	stmt := fmt.Sprintf("%s ROLE %s WITH LOGIN PASSWORD %s",
		verb, quoteIdent(creds.User), quoteLiteral(creds.Password))
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to %s role %s", strings.ToLower(verb), creds.User)
	}
	return nil
}

// EnsureDatabase creates the application database owned by the given role
// when it does not exist.
func EnsureDatabase(ctx context.Context, admin *sql.DB, name, owner string) error {
	var exists bool
	err := admin.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to look up database %s", name)
	}
	if exists {
		return nil
	}

	stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s ENCODING 'UTF8'",
		quoteIdent(name), quoteIdent(owner))
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create database %s", name)
	}
	return nil
}

// ExecScript runs a multi-statement SQL script statement by statement.
// Failures of individual statements are logged and skipped: a rewritten dump
// is best-effort input and a partial import beats no import.
func ExecScript(ctx context.Context, conn *sql.DB, script string, log *zerolog.Logger) (applied, failed int) {
	for _, stmt := range SplitStatements(script) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			failed++
			log.Warn().Err(err).Str("statement", truncate(stmt, 120)).Msg("statement failed, skipping")
			continue
		}
		applied++
	}
	return applied, failed
}

// SplitStatements splits a SQL script on statement-terminating semicolons,
// respecting single-quoted strings and line comments.
func SplitStatements(script string) []string {
	var (
		stmts    []string
		buf      strings.Builder
		inString bool
	)

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		if !inString {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
		}

		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case ch == '\'':
				// Doubled quotes inside strings are an escaped quote.
				if inString && i+1 < len(line) && line[i+1] == '\'' {
					buf.WriteByte(ch)
					buf.WriteByte(line[i+1])
					i++
					continue
				}
				inString = !inString
				buf.WriteByte(ch)
			case ch == ';' && !inString:
				if s := strings.TrimSpace(buf.String()); s != "" {
					stmts = append(stmts, s)
				}
				buf.Reset()
			default:
				buf.WriteByte(ch)
			}
		}
		buf.WriteByte('\n')
	}

	if s := strings.TrimSpace(buf.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
