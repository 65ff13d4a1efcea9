// SPDX-License-Identifier: Apache-2.0

// Package backup produces pre-upgrade snapshots. A backup is a timestamped
// directory holding a logical database dump, a verbatim copy of the
// application config tree, the certificate material and a TOML manifest.
// Every step of the ladder is best-effort: a failed copy or dump is recorded
// and logged but never blocks the sequence, because an upgrade that cannot
// proceed is worse for the operator than an upgrade without a fresh backup.
package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sslstate"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

const ManifestName = "manifest.toml"

// Record describes one produced backup. It is written into the backup
// directory as a TOML manifest so operators and later runs can identify what
// the directory holds.
type Record struct {
	ID               string           `toml:"id"`
	Dir              string           `toml:"dir"`
	Backend          core.BackendType `toml:"backend"`
	Database         string           `toml:"database"`
	SSLState         core.SSLState    `toml:"ssl_state"`
	MigrationOrdinal int              `toml:"migration_ordinal"`
	DumpPath         string           `toml:"dump_path"`
	SizeBytes        int64            `toml:"size_bytes"`
	CreatedAt        time.Time        `toml:"created_at"`
	Tool             string           `toml:"tool"`
}

// Usable reports whether the record holds a non-empty dump. An empty dump
// file marks a failed or skipped dump attempt; consumers must not restore
// from it.
func (r *Record) Usable() bool {
	return r.DumpPath != "" && r.SizeBytes > 0
}

// Producer creates backup records and tracks the latest one.
type Producer struct {
	cfg      *config.Config
	store    statestore.Store
	occ      *occ.Client
	services service.Manager
	ssl      *sslstate.Inspector
	run      occ.Runner
	log      *zerolog.Logger
	now      func() time.Time
}

// Option configures a Producer.
type Option func(*Producer)

// WithRunner injects the subprocess runner used for the dump tools.
func WithRunner(r occ.Runner) Option {
	return func(p *Producer) {
		if r != nil {
			p.run = r
		}
	}
}

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(p *Producer) {
		if log != nil {
			p.log = log
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a Producer writing backup records under the configured root.
func New(cfg *config.Config, store statestore.Store, client *occ.Client,
	mgr service.Manager, insp *sslstate.Inspector, opts ...Option) *Producer {
	nop := zerolog.Nop()
	p := &Producer{
		cfg:      cfg,
		store:    store,
		occ:      client,
		services: mgr,
		ssl:      insp,
		run:      occ.ExecRunner,
		log:      &nop,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Create produces a backup record for the given backend. Only the record
// directory allocation can fail hard; everything after it degrades to a
// warning. Two consecutive runs produce two independent records, and the
// last-backup pointer always references the newest one.
func (p *Producer) Create(ctx context.Context, backend core.BackendType, creds db.Credentials) (*Record, error) {
	id := uuid.NewString()
	dir, err := p.allocateDir(id)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        id,
		Dir:       dir,
		Backend:   backend,
		Database:  p.cfg.Database.Name,
		CreatedAt: p.now().UTC(),
	}

	// A dump of a live instance is only consistent with writes held off.
	p.occ.MaintenanceMode(ctx, true)

	if err := copyTree(p.cfg.Paths.NextcloudConfigDir, filepath.Join(dir, "config")); err != nil {
		p.log.Warn().Err(err).Msg("failed to copy application config tree")
	}

	rec.SSLState = p.ssl.Classify()
	if err := p.ssl.Snapshot(filepath.Join(dir, "ssl")); err != nil {
		p.log.Warn().Err(err).Msg("failed to copy certificate material")
	}

	p.dumpInto(ctx, rec, creds)

	if n, err := statestore.MigrationOrdinal(p.store); err == nil {
		rec.MigrationOrdinal = n
	} else {
		p.log.Warn().Err(err).Msg("failed to read migration ordinal")
	}

	if err := p.writeManifest(rec); err != nil {
		p.log.Warn().Err(err).Msg("failed to write backup manifest")
	}

	if err := statestore.SetLastBackupPath(p.store, dir); err != nil {
		p.log.Warn().Err(err).Msg("failed to advance last-backup pointer")
	}

	p.log.Info().Str("id", rec.ID).Str("dir", dir).Bool("usable_dump", rec.Usable()).
		Msg("backup record created")
	return rec, nil
}

// allocateDir creates a fresh timestamped record directory. A record never
// shares a directory with another one, so a same-second collision gets the
// record id appended instead of reusing the existing directory.
func (p *Producer) allocateDir(id string) (string, error) {
	if err := os.MkdirAll(p.cfg.Paths.BackupRoot, core.DefaultDirPerm); err != nil {
		return "", errorx.IllegalState.Wrap(err, "failed to create backup root %s", p.cfg.Paths.BackupRoot)
	}

	dir := filepath.Join(p.cfg.Paths.BackupRoot, p.now().UTC().Format("20060102-150405"))
	err := os.Mkdir(dir, core.DefaultDirPerm)
	if os.IsExist(err) {
		dir = dir + "-" + id[:8]
		err = os.Mkdir(dir, core.DefaultDirPerm)
	}
	if err != nil {
		return "", errorx.IllegalState.Wrap(err, "failed to create backup directory %s", dir)
	}
	return dir, nil
}

// dumpInto runs the backend's native dump tool and stores the result inside
// the record directory. Missing credentials or a failed tool leave an empty
// dump file behind, which marks the attempt without pretending it succeeded.
func (p *Producer) dumpInto(ctx context.Context, rec *Record, creds db.Credentials) {
	if rec.Backend == core.BackendNone {
		p.log.Info().Msg("no database backend, skipping dump")
		return
	}

	dumpPath := filepath.Join(rec.Dir, DumpName(rec.Database, rec.Backend))
	rec.DumpPath = dumpPath

	if creds.User == "" || creds.Password == "" {
		p.log.Warn().Msg("database credentials missing, skipping dump")
		p.writeDump(rec, "")
		return
	}

	// The dump needs its backend running. Stop it again afterwards only if
	// this run started it, so a live instance is left undisturbed.
	svcName := p.serviceFor(rec.Backend)
	started, err := service.StartIfStopped(ctx, p.services, svcName)
	if err != nil {
		p.log.Warn().Err(err).Str("service", svcName).Msg("could not ensure database service is running")
	}
	if started {
		defer func() {
			if err := p.services.Stop(ctx, svcName); err != nil {
				p.log.Warn().Err(err).Str("service", svcName).Msg("failed to stop database service after dump")
			}
		}()
	}

	tool, out, err := p.dump(ctx, rec.Backend, creds)
	rec.Tool = tool
	if err != nil {
		p.log.Warn().Err(err).Msg("dump tool failed")
		p.writeDump(rec, "")
		return
	}
	if strings.TrimSpace(out) == "" {
		p.log.Warn().Str("tool", tool).Msg("dump tool produced no output")
		p.writeDump(rec, "")
		return
	}

	p.writeDump(rec, out)
}

func (p *Producer) writeDump(rec *Record, content string) {
	if err := os.WriteFile(rec.DumpPath, []byte(content), core.SecretFilePerm); err != nil {
		p.log.Warn().Err(err).Msg("failed to write dump file")
		rec.DumpPath = ""
		return
	}
	rec.SizeBytes = int64(len(content))
}

func (p *Producer) serviceFor(backend core.BackendType) string {
	if backend == core.BackendPostgreSQL {
		return p.cfg.Services.PostgreSQL
	}
	return p.cfg.Services.MySQL
}

// DumpName is the dump file name inside a backup directory.
func DumpName(database string, backend core.BackendType) string {
	return fmt.Sprintf("%s-%s.sql", database, string(backend))
}

func (p *Producer) dump(ctx context.Context, backend core.BackendType, creds db.Credentials) (tool, out string, err error) {
	dbCfg := p.cfg.Database
	switch backend {
	case core.BackendMySQL:
		tool = "mysqldump"
		out, err = p.run(ctx, tool,
			"-h", dbCfg.Host,
			"-u", creds.User,
			"-p"+creds.Password,
			"--single-transaction",
			dbCfg.Name)
	case core.BackendPostgreSQL:
		tool = "pg_dump"
		out, err = p.run(ctx, "env", "PGPASSWORD="+creds.Password, tool,
			"-h", dbCfg.Host,
			"-U", creds.User,
			"--no-owner",
			dbCfg.Name)
	default:
		return "", "", errorx.IllegalArgument.New("no dump tool for backend %q", backend)
	}
	if err != nil {
		return tool, "", errorx.IllegalState.Wrap(err, "%s failed", tool)
	}
	return tool, out, nil
}

func (p *Producer) writeManifest(rec *Record) error {
	path := filepath.Join(rec.Dir, ManifestName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, core.DefaultFilePerm)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create manifest %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(rec); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to encode manifest %s", path)
	}
	return nil
}

// ReadManifest loads the manifest of a backup directory.
func ReadManifest(dir string) (*Record, error) {
	var rec Record
	if _, err := toml.DecodeFile(filepath.Join(dir, ManifestName), &rec); err != nil {
		return nil, errorx.IllegalState.Wrap(err, "failed to read manifest in %s", dir)
	}
	return &rec, nil
}

// Latest returns the record the last-backup pointer references, or nil when
// the pointer is unset or stale.
func (p *Producer) Latest() *Record {
	dir, ok, err := statestore.LastBackupPath(p.store)
	if err != nil || !ok {
		return nil
	}
	rec, err := ReadManifest(dir)
	if err != nil {
		return nil
	}
	return rec
}

// copyTree copies a directory recursively. Regular files only; the config
// tree holds no links or devices.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errorx.IllegalArgument.New("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, core.DefaultDirPerm)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
