// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/automa-saga/logx"
	"github.com/spf13/cobra"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer"
)

var flagMigrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending host migrations",
	Long:  "Execute one-time host migrations above the persisted ordinal. Failed migrations halt the run and are retried on the next invocation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		d := sequencer.NewDeps(cfg)

		if flagMigrateDryRun {
			pending, err := d.Migrations.Pending()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("no pending migrations")
				return nil
			}
			for _, step := range pending {
				cmd.Printf("%d\t%s\n", step.Ordinal, step.Name)
			}
			return nil
		}

		return sequencer.WithLock(cmd.Context(), cfg.Paths.LockFile, func(ctx context.Context) error {
			executed, err := d.Migrations.Run(ctx)
			if err != nil {
				return err
			}
			logx.As().Info().Int("executed", executed).Msg("host migrations finished")
			return nil
		})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&flagMigrateDryRun, "dry-run", false, "List pending migrations without running them")
}
