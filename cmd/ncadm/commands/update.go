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

var preUpdateCmd = &cobra.Command{
	Use:   "pre-update",
	Short: "Prepare the jail for a package upgrade",
	Long:  "Record the database backend and SSL state, enable maintenance mode and back up the database before the package manager replaces the application",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		d := sequencer.NewDeps(cfg)

		logx.As().Debug().Strs("args", args).Msg("Running pre-update sequence")

		err := sequencer.WithLock(cmd.Context(), cfg.Paths.LockFile, func(ctx context.Context) error {
			common.RunWorkflow(ctx, sequencer.NewPreUpdateWorkflow(d))
			return nil
		})
		if err != nil {
			return err
		}

		logx.As().Info().Msg("Pre-update sequence finished")
		return nil
	},
}

var postUpdateCmd = &cobra.Command{
	Use:   "post-update",
	Short: "Bring the jail back after a package upgrade",
	Long:  "Start database services, convert to PostgreSQL when needed, upgrade and repair the application, run host migrations and restore the SSL state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		d := sequencer.NewDeps(cfg)

		logx.As().Debug().Strs("args", args).Msg("Running post-update sequence")

		err := sequencer.WithLock(cmd.Context(), cfg.Paths.LockFile, func(ctx context.Context) error {
			wb, err := sequencer.NewPostUpdateWorkflow(d).Build()
			if err != nil {
				return err
			}
			report := wb.Execute(ctx)

			// Maintenance mode must come off even when a step failed, and
			// before the report check terminates the process on error.
			sequencer.EnsureMaintenanceOff(ctx, d)

			common.CheckWorkflowReport(ctx, report)
			return nil
		})
		if err != nil {
			return err
		}

		logx.As().Info().Msg("Post-update sequence finished")
		return nil
	},
}
