// SPDX-License-Identifier: Apache-2.0

package convert

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

// fakePg emulates the few PostgreSQL queries the converter issues.
type fakePg struct {
	mu      sync.Mutex
	tables  map[string]bool
	applied []string
	failAll bool
}

func (f *fakePg) tableCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables)
}

type fakeConn struct{ pg *fakePg }

func (f *fakePg) connector() driver.Connector { return fakeConnector{pg: f} }

type fakeConnector struct{ pg *fakePg }

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{pg: c.pg}, nil }
func (c fakeConnector) Driver() driver.Driver                        { return fakeDrv{} }

type fakeDrv struct{}

func (fakeDrv) Open(string) (driver.Conn, error) { return nil, driver.ErrBadConn }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }
func (c *fakeConn) Ping(context.Context) error          { return nil }

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.pg.mu.Lock()
	defer c.pg.mu.Unlock()
	if c.pg.failAll {
		return nil, errorx.IllegalState.New("statement rejected")
	}
	c.pg.applied = append(c.pg.applied, query)
	if m := createTableNameRe.FindStringSubmatch(query); m != nil {
		c.pg.tables[m[1]] = true
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.pg.mu.Lock()
	defer c.pg.mu.Unlock()
	switch {
	case strings.Contains(query, "to_regclass"):
		table, _ := args[0].Value.(string)
		var val driver.Value
		if c.pg.tables[table] {
			val = table
		}
		return &fakeRows{cols: []string{"to_regclass"}, rows: [][]driver.Value{{val}}}, nil
	case strings.Contains(query, "information_schema.tables"):
		return &fakeRows{cols: []string{"count"}, rows: [][]driver.Value{{int64(len(c.pg.tables))}}}, nil
	}
	return nil, errorx.IllegalArgument.New("unexpected query %q", query)
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

var createTableNameRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+"([^"]+)"`)

func testSetup(t *testing.T, pg *fakePg, occRunner occ.Runner) (*Converter, statestore.Store, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		Paths: config.PathsConfig{
			BackupRoot: t.TempDir(),
			PHPBinary:  "php",
			OccPath:    "occ",
		},
		Database:  config.DatabaseConfig{Name: "nextcloud", Host: "localhost", PostgresPort: 5432},
		Readiness: config.ReadinessConfig{Attempts: 1, Interval: time.Millisecond},
	}
	store := statestore.NewMemStore()
	client := occ.New(cfg, occ.WithRunner(occRunner))

	c := New(cfg, store, client, WithOpener(func(db.Target) (*sql.DB, error) {
		return sql.OpenDB(pg.connector()), nil
	}))
	return c, store, cfg
}

func noopOcc(_ context.Context, _ string, _ ...string) (string, error) { return "", nil }

func newFakePg(tables ...string) *fakePg {
	pg := &fakePg{tables: map[string]bool{}}
	for _, tbl := range tables {
		pg.tables[tbl] = true
	}
	return pg
}

// writeDump places a usable dump inside a backup record directory.
func writeDump(t *testing.T, root string) string {
	t.Helper()
	dump := "CREATE TABLE `oc_users` (\n  `uid` varchar(64) NOT NULL,\n  PRIMARY KEY (`uid`)\n) ENGINE=InnoDB;\n" +
		"INSERT INTO `oc_users` VALUES ('admin');\n"
	dir := filepath.Join(root, "20260101-000000")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "nextcloud-mysql.sql")
	require.NoError(t, os.WriteFile(path, []byte(dump), 0o600))
	return path
}

func TestRunAlreadyMigrated(t *testing.T) {
	pg := newFakePg("oc_users")

	occCalled := false
	c, _, _ := testSetup(t, pg, func(_ context.Context, _ string, _ ...string) (string, error) {
		occCalled = true
		return "", nil
	})

	att, err := c.Run(context.Background(), db.Credentials{User: "nc", Password: "pw"}, true)
	require.NoError(t, err)
	require.Equal(t, MethodAlreadyDone, att.Method)
	require.False(t, occCalled, "idempotent runs must not touch occ")
}

func TestRunLiveConversion(t *testing.T) {
	pg := newFakePg()

	c, _, _ := testSetup(t, pg, func(_ context.Context, _ string, args ...string) (string, error) {
		// The occ converter creates tables in the target as a side effect.
		if strings.Contains(strings.Join(args, " "), "db:convert-type") {
			pg.mu.Lock()
			pg.tables["oc_users"] = true
			pg.mu.Unlock()
		}
		return "", nil
	})

	att, err := c.Run(context.Background(), db.Credentials{User: "nc", Password: "pw"}, true)
	require.NoError(t, err)
	require.Equal(t, MethodOccConvert, att.Method)
	require.Equal(t, 1, att.Tables)
}

func TestRunFallsBackToDumpRewrite(t *testing.T) {
	pg := newFakePg()

	c, _, cfg := testSetup(t, pg, func(_ context.Context, _ string, args ...string) (string, error) {
		if strings.Contains(strings.Join(args, " "), "db:convert-type") {
			return "MySQL server has gone away", errorx.IllegalState.New("exit 1")
		}
		return "", nil
	})
	writeDump(t, cfg.Paths.BackupRoot)

	att, err := c.Run(context.Background(), db.Credentials{User: "nc", Password: "pw"}, true)
	require.NoError(t, err)
	require.Equal(t, MethodDumpRewrite, att.Method)
	require.Equal(t, 1, att.Tables)
	require.True(t, pg.tables["oc_users"])
}

func TestRunOfflineWhenMySQLDown(t *testing.T) {
	pg := newFakePg()

	occCalls := []string{}
	c, _, cfg := testSetup(t, pg, func(_ context.Context, _ string, args ...string) (string, error) {
		occCalls = append(occCalls, strings.Join(args, " "))
		return "", nil
	})
	writeDump(t, cfg.Paths.BackupRoot)

	att, err := c.Run(context.Background(), db.Credentials{User: "nc", Password: "pw"}, false)
	require.NoError(t, err)
	require.Equal(t, MethodDumpRewrite, att.Method)
	for _, call := range occCalls {
		require.NotContains(t, call, "db:convert-type")
	}
}

func TestRunAllPathsFail(t *testing.T) {
	pg := newFakePg()

	c, _, _ := testSetup(t, pg, noopOcc)
	// No dump anywhere, mysql down.
	_, err := c.Run(context.Background(), db.Credentials{User: "nc", Password: "pw"}, false)
	require.Error(t, err)
	require.True(t, errorx.IsOfType(err, core.ConversionFailed))
}

func TestFindDumpOrder(t *testing.T) {
	pg := newFakePg()
	c, store, cfg := testSetup(t, pg, noopOcc)

	globbed := writeDump(t, cfg.Paths.BackupRoot)

	// The glob over backup directories is the fallback when no pointer is set.
	got, err := c.findDump()
	require.NoError(t, err)
	require.Equal(t, globbed, got)

	// A pointer at a backup directory outranks the glob.
	pointed := filepath.Join(cfg.Paths.BackupRoot, "20260102-000000")
	require.NoError(t, os.MkdirAll(pointed, 0o755))
	pointedDump := filepath.Join(pointed, "nextcloud-mysql.sql")
	require.NoError(t, os.WriteFile(pointedDump, []byte("CREATE TABLE `x` (y int);"), 0o600))
	require.NoError(t, statestore.SetLastBackupPath(store, pointed))

	got, err = c.findDump()
	require.NoError(t, err)
	require.Equal(t, pointedDump, got)

	// An empty dump marks a failed backup and never qualifies.
	require.NoError(t, os.WriteFile(pointedDump, nil, 0o600))
	got, err = c.findDump()
	require.NoError(t, err)
	require.Equal(t, globbed, got)

	// A stale pointer falls back to the glob as well.
	require.NoError(t, os.RemoveAll(pointed))
	got, err = c.findDump()
	require.NoError(t, err)
	require.Equal(t, globbed, got)
}

func TestDoneRepointsConfig(t *testing.T) {
	pg := newFakePg("oc_users")

	var calls []string
	c, store, _ := testSetup(t, pg, func(_ context.Context, _ string, args ...string) (string, error) {
		calls = append(calls, strings.Join(args, " "))
		return "", nil
	})

	require.NoError(t, c.Done(context.Background(), db.Credentials{User: "nc", Password: "pw"}))

	joined := strings.Join(calls, "\n")
	require.Contains(t, joined, "config:system:set dbtype --value pgsql")
	require.Contains(t, joined, "config:system:set dbuser --value nc")
	require.Contains(t, joined, "config:system:delete dbdriveroptions")

	backend, ok, err := statestore.BackendMarker(store)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.BackendPostgreSQL, backend)
}
