// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sslstate"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

type testEnv struct {
	producer *Producer
	cfg      *config.Config
	store    statestore.Store
	client   *occ.Client
	services *service.Fake
	ssl      *sslstate.Inspector
	occCalls []string
	dumps    int
}

func newTestEnv(t *testing.T, dumpOut string, dumpErr error) *testEnv {
	t.Helper()

	base := t.TempDir()
	configDir := filepath.Join(base, "nc-config")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.php"), []byte("<?php $CONFIG = [];"), 0o640))

	cfg := &config.Config{
		Paths: config.PathsConfig{
			NextcloudConfigDir: configDir,
			BackupRoot:         filepath.Join(base, "backups"),
			CertDir:            filepath.Join(base, "ssl"),
			PHPBinary:          "php",
			OccPath:            "occ",
		},
		Services: config.ServicesConfig{MySQL: "mysql-server", PostgreSQL: "postgresql"},
		Database: config.DatabaseConfig{Name: "nextcloud", Host: "localhost"},
	}

	env := &testEnv{
		cfg:      cfg,
		store:    statestore.NewMemStore(),
		services: service.NewFake(),
		ssl:      sslstate.New(cfg.Paths.CertDir, ""),
	}
	env.services.Running["mysql-server"] = true
	env.services.Running["postgresql"] = true

	env.client = occ.New(cfg, occ.WithRunner(func(_ context.Context, name string, args ...string) (string, error) {
		env.occCalls = append(env.occCalls, strings.Join(append([]string{name}, args...), " "))
		return "", nil
	}))

	calls := 0
	env.producer = New(cfg, env.store, env.client, env.services, env.ssl,
		WithRunner(func(_ context.Context, _ string, _ ...string) (string, error) {
			env.dumps++
			return dumpOut, dumpErr
		}),
		WithClock(func() time.Time {
			// Distinct stamps per call so repeated backups get distinct dirs.
			calls++
			return time.Date(2026, 1, 2, 3, 4, calls, 0, time.UTC)
		}))
	return env
}

func creds() db.Credentials { return db.Credentials{User: "nc", Password: "pw"} }

func TestCreateWritesRecordManifestAndPointer(t *testing.T) {
	env := newTestEnv(t, "-- dump\nCREATE TABLE `oc_users` (x int);\n", nil)
	require.NoError(t, statestore.SetMigrationOrdinal(env.store, 2))

	rec, err := env.producer.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "mysqldump", rec.Tool)
	require.True(t, rec.Usable())
	require.Equal(t, 2, rec.MigrationOrdinal)

	data, err := os.ReadFile(rec.DumpPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "CREATE TABLE")

	// The config tree is copied verbatim into the record.
	_, err = os.Stat(filepath.Join(rec.Dir, "config", "config.php"))
	require.NoError(t, err)

	manifest, err := ReadManifest(rec.Dir)
	require.NoError(t, err)
	require.Equal(t, rec.ID, manifest.ID)
	require.Equal(t, core.BackendMySQL, manifest.Backend)
	require.Equal(t, core.SSLNone, manifest.SSLState)

	dir, ok, err := statestore.LastBackupPath(env.store)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Dir, dir)

	require.Contains(t, strings.Join(env.occCalls, "\n"), "maintenance:mode --on")
}

func TestCreateTwiceProducesDistinctRecords(t *testing.T) {
	env := newTestEnv(t, "-- dump content\n", nil)

	first, err := env.producer.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)
	second, err := env.producer.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)

	require.NotEqual(t, first.Dir, second.Dir)
	require.NotEqual(t, first.ID, second.ID)

	dir, _, err := statestore.LastBackupPath(env.store)
	require.NoError(t, err)
	require.Equal(t, second.Dir, dir)
}

func TestCreateSameSecondGetsDistinctDirs(t *testing.T) {
	env := newTestEnv(t, "", nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(env.cfg, env.store, env.client, env.services, env.ssl,
		WithRunner(func(_ context.Context, _ string, _ ...string) (string, error) {
			return "-- dump content\n", nil
		}),
		WithClock(func() time.Time { return fixed }))

	first, err := p.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)
	second, err := p.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)

	require.NotEqual(t, first.Dir, second.Dir)

	// The second record must not have touched the first one.
	manifest, err := ReadManifest(first.Dir)
	require.NoError(t, err)
	require.Equal(t, first.ID, manifest.ID)
	require.FileExists(t, first.DumpPath)
}

func TestCreateMissingCredentialsSkipsDump(t *testing.T) {
	env := newTestEnv(t, "never used", nil)

	rec, err := env.producer.Create(context.Background(), core.BackendMySQL, db.Credentials{})
	require.NoError(t, err)
	require.Zero(t, env.dumps)
	require.False(t, rec.Usable())

	// The empty dump file marks the skipped attempt.
	info, err := os.Stat(rec.DumpPath)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestCreateDumpToolFailure(t *testing.T) {
	env := newTestEnv(t, "", errorx.IllegalState.New("command not found"))

	rec, err := env.producer.Create(context.Background(), core.BackendPostgreSQL, creds())
	require.NoError(t, err)
	require.Equal(t, "pg_dump", rec.Tool)
	require.False(t, rec.Usable())

	info, err := os.Stat(rec.DumpPath)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	// The record itself is still valid and becomes the latest backup.
	dir, ok, err := statestore.LastBackupPath(env.store)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Dir, dir)
}

func TestCreateNoBackend(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, err := env.producer.Create(context.Background(), core.BackendNone, db.Credentials{})
	require.NoError(t, err)
	require.Empty(t, rec.DumpPath)
	require.Zero(t, env.dumps)
}

func TestCreateStartsAndStopsDatabaseService(t *testing.T) {
	env := newTestEnv(t, "-- dump content\n", nil)
	env.services.Running["mysql-server"] = false

	_, err := env.producer.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)

	// Started for the dump and stopped again since this run started it.
	require.Contains(t, env.services.Started, "mysql-server")
	require.Contains(t, env.services.Stopped, "mysql-server")
}

func TestCreateLeavesRunningServiceAlone(t *testing.T) {
	env := newTestEnv(t, "-- dump content\n", nil)

	_, err := env.producer.Create(context.Background(), core.BackendMySQL, creds())
	require.NoError(t, err)
	require.NotContains(t, env.services.Stopped, "mysql-server")
}

func TestLatestStalePointer(t *testing.T) {
	env := newTestEnv(t, "", nil)
	require.NoError(t, statestore.SetLastBackupPath(env.store, "/no/such/dir"))
	require.Nil(t, env.producer.Latest())
}
