// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/automa-saga/logx"
	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup record",
	Long:  "Snapshot the database, config tree and certificates into a backup directory and advance the last-backup pointer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d := sequencer.NewDeps(config.Get())
		if d.CredsErr != nil {
			logx.As().Warn().Err(d.CredsErr).Msg("database credentials unavailable, dump will be skipped")
		}

		backend := d.Probe.Detect(ctx)

		rec, err := d.Backup.Create(ctx, backend, d.Creds)

		// Create switches maintenance mode on for a consistent snapshot; a
		// standalone backup must hand the instance back either way.
		d.Occ.MaintenanceMode(ctx, false)

		if err != nil {
			return errorx.Decorate(err, "backup failed")
		}

		logx.As().Info().Str("id", rec.ID).Bool("usable_dump", rec.Usable()).Msg("backup complete")
		cmd.Println(rec.Dir)
		return nil
	},
}
