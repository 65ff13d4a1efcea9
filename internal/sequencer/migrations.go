// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"context"
	"os"

	"github.com/automa-saga/logx"
	"github.com/joomcode/errorx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/migrations"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
)

// HostMigrations returns the registry of one-time host migrations. Ordinals
// are append-only: new migrations get the next free number, existing entries
// never change theirs.
func HostMigrations(cfg *config.Config, mgr service.Manager) *migrations.Registry {
	registry, err := migrations.NewRegistry(
		migrations.Step{
			Ordinal: 1,
			Name:    "create-state-directories",
			Run: func(context.Context) error {
				for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogsDir, cfg.Paths.BackupRoot} {
					if err := os.MkdirAll(dir, core.DefaultDirPerm); err != nil {
						return errorx.IllegalState.Wrap(err, "failed to create %s", dir)
					}
				}
				return nil
			},
		},
		migrations.Step{
			Ordinal: 2,
			Name:    "secure-credential-files",
			Run: func(context.Context) error {
				for _, file := range []string{cfg.Paths.DBUserFile, cfg.Paths.DBPasswordFile} {
					if err := os.Chmod(file, core.SecretFilePerm); err != nil && !os.IsNotExist(err) {
						return errorx.IllegalState.Wrap(err, "failed to tighten permissions on %s", file)
					}
				}
				return nil
			},
		},
		migrations.Step{
			Ordinal: 3,
			Name:    "enable-postgresql-in-rc-conf",
			Run: func(ctx context.Context) error {
				enabled, err := mgr.IsEnabled(cfg.Services.PostgreSQL)
				if err != nil {
					return err
				}
				if enabled {
					return nil
				}
				out, err := occ.ExecRunner(ctx, "sysrc", "postgresql_enable=YES")
				if err != nil {
					return errorx.IllegalState.Wrap(err, "sysrc failed: %s", out)
				}
				return nil
			},
		},
	)
	if err != nil {
		// Registry construction only fails on programmer error.
		logx.As().Panic().Err(err).Msg("invalid host migration registry")
	}
	return registry
}
