// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
)

// EnableMaintenance puts the application into maintenance mode. The occ call
// is best-effort; on a fresh install the application may not exist yet.
func EnableMaintenance(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("enable-maintenance").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			d.Occ.MaintenanceMode(ctx, true)
			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Enabling maintenance mode")
			return ctx, nil
		})
}

// DisableMaintenance takes the application out of maintenance mode. The
// sequencer additionally runs this unconditionally after the workflow, so a
// failed sequence never leaves the instance locked.
func DisableMaintenance(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("disable-maintenance").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			d.Occ.MaintenanceMode(ctx, false)
			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Disabling maintenance mode")
			return ctx, nil
		})
}
