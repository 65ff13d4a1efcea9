// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"strconv"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
)

// BackupDatabase produces a backup record before the upgrade touches the
// instance. The producer degrades per step internally, so only a record that
// could not be created at all logs a warning here; a record without a usable
// dump still carries the config and certificate snapshots.
func BackupDatabase(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("backup-database").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if d.CredsErr != nil {
				logx.As().Warn().Err(d.CredsErr).
					Msg("database credentials unavailable, dump will be skipped")
			}

			rec, err := d.Backup.Create(ctx, d.Backend, d.Creds)
			if err != nil {
				logx.As().Warn().Err(err).Msg("backup failed, continuing with previous backup")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"backup": "failed"}))
			}

			return automa.SuccessReport(stp,
				automa.WithMetadata(map[string]string{
					"backup":      rec.Dir,
					"usable_dump": strconv.FormatBool(rec.Usable()),
				}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Backing up database")
			return ctx, nil
		}).
		WithOnFailure(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepFailure(ctx, stp, rpt, "Database backup failed")
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "Database backup step completed")
		})
}
