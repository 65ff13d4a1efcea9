// SPDX-License-Identifier: Apache-2.0

// Package convert moves a Nextcloud instance from MySQL to PostgreSQL. Two
// conversion paths exist: the application's own live converter, and an
// offline path that rewrites a mysqldump into PostgreSQL syntax and imports
// it. The live path is preferred because it migrates data type-accurately;
// the offline path is the fallback when the old backend or the converter is
// unavailable.
package convert

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/backup"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
	"github.com/damvcoool/iocage-plugin-nextcloud/pkg/sqlrewrite"
)

// Method names a conversion path.
type Method string

const (
	MethodNone        Method = "none"
	MethodOccConvert  Method = "occ-convert"
	MethodDumpRewrite Method = "dump-rewrite"
	MethodAlreadyDone Method = "already-migrated"
)

// Attempt summarizes one conversion run.
type Attempt struct {
	Method Method
	Tables int
}

// Converter orchestrates the MySQL to PostgreSQL migration.
type Converter struct {
	cfg      *config.Config
	store    statestore.Store
	occ      *occ.Client
	rewriter *sqlrewrite.Rewriter
	openDB   func(db.Target) (*sql.DB, error)
	log      *zerolog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(c *Converter) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOpener injects the database opener, replacing db.Open.
func WithOpener(open func(db.Target) (*sql.DB, error)) Option {
	return func(c *Converter) {
		if open != nil {
			c.openDB = open
		}
	}
}

// New returns a Converter.
func New(cfg *config.Config, store statestore.Store, client *occ.Client, opts ...Option) *Converter {
	nop := zerolog.Nop()
	c := &Converter{
		cfg:      cfg,
		store:    store,
		occ:      client,
		rewriter: sqlrewrite.New(),
		openDB:   db.Open,
		log:      &nop,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Converter) pgTarget(creds db.Credentials) db.Target {
	return db.Target{
		Backend:  core.BackendPostgreSQL,
		Host:     c.cfg.Database.Host,
		Port:     c.cfg.Database.PostgresPort,
		Database: c.cfg.Database.Name,
		Creds:    creds,
	}
}

// AlreadyMigrated reports whether PostgreSQL already holds a Nextcloud
// schema, keyed on the oc_users table. Running the conversion twice must be
// a no-op, so every entry point checks this first.
func (c *Converter) AlreadyMigrated(ctx context.Context, creds db.Credentials) (bool, error) {
	conn, err := c.openDB(c.pgTarget(creds))
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := db.WaitReady(ctx, conn, c.cfg.Readiness.Attempts, c.cfg.Readiness.Interval, c.log); err != nil {
		return false, err
	}
	return db.TableExists(ctx, conn, "oc_users")
}

// Run executes the conversion. It returns the attempt that succeeded, or an
// error when every path failed. mysqlUp tells the converter whether the old
// backend is reachable, which gates the live path.
func (c *Converter) Run(ctx context.Context, creds db.Credentials, mysqlUp bool) (*Attempt, error) {
	migrated, err := c.AlreadyMigrated(ctx, creds)
	if err != nil {
		return nil, err
	}
	if migrated {
		c.log.Info().Msg("postgresql already holds a schema, skipping conversion")
		return &Attempt{Method: MethodAlreadyDone}, nil
	}

	if mysqlUp {
		if att, err := c.tryLiveConversion(ctx, creds); err == nil {
			return att, nil
		} else {
			c.log.Warn().Err(err).Msg("live conversion failed, falling back to dump rewrite")
		}
	} else {
		c.log.Info().Msg("mysql backend unavailable, using dump rewrite path")
	}

	att, err := c.tryOfflineRewrite(ctx, creds)
	if err != nil {
		return nil, core.ConversionFailed.Wrap(err, "all conversion paths failed")
	}
	return att, nil
}

// tryLiveConversion drives occ db:convert-type, which copies schema and data
// from the running MySQL into PostgreSQL.
func (c *Converter) tryLiveConversion(ctx context.Context, creds db.Credentials) (*Attempt, error) {
	err := c.occ.ConvertType(ctx, "pgsql", creds.User, creds.Password, c.cfg.Database.Host, c.cfg.Database.Name)
	if err != nil {
		return nil, err
	}

	tables, err := c.countTables(ctx, creds)
	if err != nil {
		return nil, err
	}
	if tables == 0 {
		return nil, errorx.IllegalState.New("live conversion reported success but created no tables")
	}
	return &Attempt{Method: MethodOccConvert, Tables: tables}, nil
}

func (c *Converter) countTables(ctx context.Context, creds db.Credentials) (int, error) {
	conn, err := c.openDB(c.pgTarget(creds))
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := db.WaitReady(ctx, conn, c.cfg.Readiness.Attempts, c.cfg.Readiness.Interval, c.log); err != nil {
		return 0, err
	}
	return db.TableCount(ctx, conn)
}

// tryOfflineRewrite locates the freshest MySQL dump, rewrites it into
// PostgreSQL syntax and imports it. The import is considered successful when
// at least one table exists afterwards.
func (c *Converter) tryOfflineRewrite(ctx context.Context, creds db.Credentials) (*Attempt, error) {
	dumpPath, err := c.findDump()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(dumpPath)
	if err != nil {
		return nil, errorx.IllegalState.Wrap(err, "failed to read dump %s", dumpPath)
	}

	rewritten, created := c.rewriter.Rewrite(string(raw))
	if created == 0 {
		return nil, errorx.IllegalState.New("dump %s contains no CREATE TABLE statements", dumpPath)
	}

	conn, err := c.openDB(c.pgTarget(creds))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := db.WaitReady(ctx, conn, c.cfg.Readiness.Attempts, c.cfg.Readiness.Interval, c.log); err != nil {
		return nil, err
	}

	applied, failed := db.ExecScript(ctx, conn, rewritten, c.log)
	c.log.Info().Int("applied", applied).Int("failed", failed).Str("dump", dumpPath).
		Msg("dump import finished")

	tables, err := db.TableCount(ctx, conn)
	if err != nil {
		return nil, err
	}
	if tables == 0 {
		return nil, errorx.IllegalState.New("import of %s created no tables", dumpPath)
	}
	return &Attempt{Method: MethodDumpRewrite, Tables: tables}, nil
}

// findDump resolves the dump to import: the last-backup pointer first, then
// the newest backup directory under the backup root, then the legacy fixed
// path. An empty dump file marks a failed backup and never qualifies.
func (c *Converter) findDump() (string, error) {
	dumpName := backup.DumpName(c.cfg.Database.Name, core.BackendMySQL)

	if path, ok, err := statestore.LastBackupPath(c.store); err == nil && ok {
		if p := usableDump(path, dumpName); p != "" {
			return p, nil
		}
	}

	pattern := filepath.Join(c.cfg.Paths.BackupRoot, "*", dumpName)
	matches, err := filepath.Glob(pattern)
	if err == nil {
		// Directory names are timestamps, so lexical order is age order.
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, m := range matches {
			if p := usableDump(m, dumpName); p != "" {
				return p, nil
			}
		}
	}

	if c.cfg.Paths.FallbackDumpFile != "" {
		if p := usableDump(c.cfg.Paths.FallbackDumpFile, dumpName); p != "" {
			return p, nil
		}
	}

	return "", errorx.IllegalState.New("no usable mysql dump found under %s", c.cfg.Paths.BackupRoot)
}

// usableDump returns the path of a non-empty dump file at path, resolving a
// backup directory to the dump file it should contain. Returns "" otherwise.
func usableDump(path, dumpName string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		path = filepath.Join(path, dumpName)
		if info, err = os.Stat(path); err != nil {
			return ""
		}
	}
	if info.Size() == 0 {
		return ""
	}
	return path
}

// Done repoints the application at PostgreSQL and clears MySQL-only config
// leftovers. Config writes are best-effort like every other occ call.
func (c *Converter) Done(ctx context.Context, creds db.Credentials) error {
	if err := c.occ.ConfigSet(ctx, "dbtype", "pgsql"); err != nil {
		return err
	}
	if err := c.occ.ConfigSet(ctx, "dbhost", c.cfg.Database.Host); err != nil {
		return err
	}
	if err := c.occ.ConfigSet(ctx, "dbport", ""); err != nil {
		c.log.Warn().Err(err).Msg("failed to reset dbport")
	}
	if err := c.occ.ConfigSet(ctx, "dbname", c.cfg.Database.Name); err != nil {
		return err
	}
	if err := c.occ.ConfigSet(ctx, "dbuser", creds.User); err != nil {
		return err
	}
	if err := c.occ.ConfigSet(ctx, "dbpassword", creds.Password, "--type", "string"); err != nil {
		return err
	}

	// Stale MySQL socket settings break pgsql connections when left behind.
	c.occ.ConfigDelete(ctx, "dbdriveroptions")

	if err := statestore.SetBackendMarker(c.store, core.BackendPostgreSQL); err != nil {
		return err
	}
	return nil
}
