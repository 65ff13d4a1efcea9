// SPDX-License-Identifier: Apache-2.0

// Package sequencer assembles and runs the pre-update and post-update
// workflows. A single run owns an advisory file lock, so concurrent
// invocations from the package manager and an operator shell cannot
// interleave service restarts and database work.
package sequencer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"
	"github.com/gofrs/flock"
	"github.com/joomcode/errorx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/backup"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/convert"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/migrations"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/probe"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/steps"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sslstate"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

var lockAcquireTimeout = 30 * time.Second

// NewDeps wires the default collaborators for a sequencer run. The database
// credentials are loaded eagerly; the error is carried so that only the
// steps that actually need the account fail on it.
func NewDeps(cfg *config.Config) *steps.Deps {
	store := statestore.NewFileStore(cfg.Paths.StateDir)
	client := occ.New(cfg, occ.WithLogger(logx.As()))
	mgr := service.New(cfg.Services.RcConfPath, service.WithLogger(logx.As()))

	creds, credsErr := db.LoadCredentials(cfg.Paths.DBUserFile, cfg.Paths.DBPasswordFile)

	registry := HostMigrations(cfg, mgr)
	runner := migrations.NewRunner(registry, store, logx.As())
	ssl := sslstate.New(cfg.Paths.CertDir, cfg.Paths.CustomSSLMarker, sslstate.WithLogger(logx.As()))

	return &steps.Deps{
		Cfg:        cfg,
		Store:      store,
		Occ:        client,
		Services:   mgr,
		Probe:      probe.New(cfg, mgr, probe.WithLogger(logx.As())),
		Backup:     backup.New(cfg, store, client, mgr, ssl, backup.WithLogger(logx.As())),
		Converter:  convert.New(cfg, store, client, convert.WithLogger(logx.As())),
		SSL:        ssl,
		Migrations: runner,
		Creds:      creds,
		CredsErr:   credsErr,
	}
}

// NewPreUpdateWorkflow snapshots everything the post-update phase needs to
// put the instance back together: the active backend, the TLS setup and a
// fresh database dump, with the application held in maintenance mode. When
// MySQL is still active it additionally attempts the live conversion while
// the old packages are in place, then stops all managed services so the
// package upgrade starts from a quiescent jail.
func NewPreUpdateWorkflow(d *steps.Deps) *automa.WorkflowBuilder {
	return automa.NewWorkflowBuilder().WithId("nc-pre-update-workflow").Steps(
		steps.DetectBackend(d),
		steps.SnapshotSSLState(d),
		steps.EnableMaintenance(d),
		steps.BackupDatabase(d),
		steps.AttemptEarlyConversion(d),
		steps.StopManagedServices(d),
	)
}

// NewPostUpdateWorkflow brings the instance back after the package upgrade:
// database services up, data converted to PostgreSQL when needed, the
// application upgraded and repaired, host migrations applied, TLS restored.
// The database steps run tolerant: a failed conversion leaves the instance
// on its old backend but never keeps the restore and repair tail from
// executing. Only missing credentials stop the sequence.
func NewPostUpdateWorkflow(d *steps.Deps) *automa.WorkflowBuilder {
	return automa.NewWorkflowBuilder().WithId("nc-post-update-workflow").Steps(
		steps.DetectBackend(d),
		steps.EnsureDatabaseServices(d),
		steps.WaitPostgresReady(d),
		steps.ProvisionPostgres(d, false),
		steps.ConvertDatabase(d, false),
		steps.ReconcileInstalledFlag(d),
		steps.UpgradeApplication(d),
		steps.UpdateApps(d),
		steps.RunHostMigrations(d),
		steps.RestoreSSLState(d),
		steps.RestartWebServices(d),
		steps.StopMySQLIfConverted(d),
		steps.DisableMaintenance(d),
	)
}

// NewConvertWorkflow runs only the conversion phase, for operators invoking
// it directly instead of through a package upgrade. Here the conversion is
// the whole point of the run, so its steps are strict and a failure stops
// the workflow with a diagnosable report.
func NewConvertWorkflow(d *steps.Deps) *automa.WorkflowBuilder {
	return automa.NewWorkflowBuilder().WithId("nc-convert-workflow").Steps(
		steps.DetectBackend(d),
		steps.EnableMaintenance(d),
		steps.BackupDatabase(d),
		steps.EnsureDatabaseServices(d),
		steps.WaitPostgresReady(d),
		steps.ProvisionPostgres(d, true),
		steps.ConvertDatabase(d, true),
		steps.RestartWebServices(d),
		steps.DisableMaintenance(d),
	)
}

// WithLock acquires the advisory sequencer lock, runs fn and releases the
// lock. A second invocation while a run is active fails fast instead of
// queueing behind it.
func WithLock(ctx context.Context, lockPath string, fn func(ctx context.Context) error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), core.DefaultDirPerm); err != nil {
		return errorx.IllegalState.Wrap(err, "failed to create lock directory")
	}

	fileLock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, time.Second)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to acquire sequencer lock %q", lockPath)
	}
	if !locked {
		return errorx.IllegalState.New("another update sequence holds the lock %q", lockPath)
	}

	defer func() {
		if e := fileLock.Unlock(); e != nil {
			logx.As().Warn().Err(e).Str("lockPath", lockPath).Msg("failed to release sequencer lock")
		}
	}()

	return fn(ctx)
}

// EnsureMaintenanceOff force-disables maintenance mode. Callers run this
// after every post-update workflow regardless of its outcome; a failed
// upgrade must never leave the instance locked out.
func EnsureMaintenanceOff(ctx context.Context, d *steps.Deps) {
	d.Occ.MaintenanceMode(ctx, false)
}
