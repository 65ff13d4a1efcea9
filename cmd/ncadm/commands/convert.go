// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/automa-saga/logx"
	"github.com/spf13/cobra"

	"github.com/damvcoool/iocage-plugin-nextcloud/cmd/ncadm/commands/common"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer"
)

var convertCmd = &cobra.Command{
	Use:   "convert-db",
	Short: "Convert the database from MySQL to PostgreSQL",
	Long:  "Back up the MySQL database, migrate schema and data into PostgreSQL and repoint the application. Finished conversions are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		d := sequencer.NewDeps(cfg)

		logx.As().Debug().Strs("args", args).Msg("Converting database backend")

		err := sequencer.WithLock(cmd.Context(), cfg.Paths.LockFile, func(ctx context.Context) error {
			wb, err := sequencer.NewConvertWorkflow(d).Build()
			if err != nil {
				return err
			}
			report := wb.Execute(ctx)

			// Even a failed conversion must not leave the instance locked.
			sequencer.EnsureMaintenanceOff(ctx, d)

			common.CheckWorkflowReport(ctx, report)
			return nil
		})
		if err != nil {
			return err
		}

		logx.As().Info().Msg("Database conversion sequence finished")
		return nil
	},
}
