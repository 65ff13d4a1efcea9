// SPDX-License-Identifier: Apache-2.0

// Package steps contains the workflow step builders for the pre-update and
// post-update sequences.
package steps

import (
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/backup"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/convert"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/migrations"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/probe"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sslstate"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

// Deps carries the collaborators every step needs plus the state the steps
// discover about the host as the workflow progresses. Workflows execute
// steps sequentially, so the mutable fields need no locking.
type Deps struct {
	Cfg        *config.Config
	Store      statestore.Store
	Occ        *occ.Client
	Services   service.Manager
	Probe      *probe.Detector
	Backup     *backup.Producer
	Converter  *convert.Converter
	SSL        *sslstate.Inspector
	Migrations *migrations.Runner

	// Creds holds the application database account; CredsErr records why it
	// could not be loaded. Steps that need the account must fail on CredsErr.
	Creds    db.Credentials
	CredsErr error

	// Backend is filled in by the detect step.
	Backend core.BackendType

	// MySQLUp reports whether the old backend answered during this run.
	MySQLUp bool
}

// adminTarget is the superuser connection used for role and database
// provisioning. FreeBSD's postgres package trusts local connections for the
// postgres account.
func (d *Deps) adminTarget() db.Target {
	return db.Target{
		Backend:  core.BackendPostgreSQL,
		Host:     d.Cfg.Database.Host,
		Port:     d.Cfg.Database.PostgresPort,
		Database: "postgres",
		Creds:    db.Credentials{User: d.Cfg.Database.AdminUser},
	}
}
