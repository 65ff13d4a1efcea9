// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "dbuser")
	passFile := filepath.Join(dir, "dbpassword")
	require.NoError(t, os.WriteFile(userFile, []byte("nextcloud\n"), 0o600))
	require.NoError(t, os.WriteFile(passFile, []byte("s3cret\n"), 0o600))

	creds, err := LoadCredentials(userFile, passFile)
	require.NoError(t, err)
	require.Equal(t, Credentials{User: "nextcloud", Password: "s3cret"}, creds)
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "dbuser")
	require.NoError(t, os.WriteFile(userFile, []byte("nextcloud"), 0o600))

	_, err := LoadCredentials(userFile, filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.True(t, errorx.IsOfType(err, core.MissingCredentials))
}

func TestLoadCredentialsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "dbuser")
	passFile := filepath.Join(dir, "dbpassword")
	require.NoError(t, os.WriteFile(userFile, []byte("  \n"), 0o600))
	require.NoError(t, os.WriteFile(passFile, []byte("s3cret"), 0o600))

	_, err := LoadCredentials(userFile, passFile)
	require.Error(t, err)
}

func TestTargetDSN(t *testing.T) {
	creds := Credentials{User: "nc", Password: "pw"}

	driver, dsn, err := Target{
		Backend: core.BackendMySQL, Host: "localhost", Port: 3306, Database: "nextcloud", Creds: creds,
	}.DSN()
	require.NoError(t, err)
	require.Equal(t, "mysql", driver)
	require.Equal(t, "nc:pw@tcp(localhost:3306)/nextcloud?multiStatements=true", dsn)

	driver, dsn, err = Target{
		Backend: core.BackendPostgreSQL, Host: "localhost", Port: 5432, Database: "nextcloud", Creds: creds,
	}.DSN()
	require.NoError(t, err)
	require.Equal(t, "pgx", driver)
	require.Equal(t, "postgres://nc:pw@localhost:5432/nextcloud?sslmode=disable", dsn)

	_, _, err = Target{Backend: core.BackendNone}.DSN()
	require.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	script := `-- comment line
CREATE TABLE "oc_users" (
  "uid" varchar(64) NOT NULL
);

INSERT INTO "oc_users" VALUES ('ad;min', 'it''s;fine');
INSERT INTO "oc_users" VALUES ('b', 'c')`

	stmts := SplitStatements(script)
	require.Len(t, stmts, 3)
	require.Contains(t, stmts[0], `CREATE TABLE "oc_users"`)
	require.Contains(t, stmts[1], "ad;min")
	require.Contains(t, stmts[1], "it''s;fine")
	require.Contains(t, stmts[2], "('b', 'c')")
}

func TestSplitStatementsEmpty(t *testing.T) {
	require.Empty(t, SplitStatements("-- nothing here\n\n"))
}

func TestQuoting(t *testing.T) {
	require.Equal(t, `"next""cloud"`, quoteIdent(`next"cloud`))
	require.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestHasTableRejectsUnknownBackend(t *testing.T) {
	_, err := HasTable(context.Background(), nil, Target{Backend: core.BackendNone}, "oc_users")
	require.Error(t, err)
	require.True(t, errorx.IsOfType(err, errorx.IllegalArgument))
}
