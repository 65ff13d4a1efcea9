// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
)

// ReconcileInstalledFlag aligns the installed flag in the application config
// with the data actually present in the database. An interrupted migration
// can leave the flag claiming no installation while the user tables exist,
// which makes the application offer a fresh setup over live data; the
// opposite mismatch traps it in an install loop. Best-effort: a flag that
// cannot be read or written is logged and left alone.
func ReconcileInstalledFlag(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("reconcile-installed-flag").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if d.CredsErr != nil || d.Backend == core.BackendNone {
				return automa.SkippedReport(stp)
			}

			present, err := dataPresent(ctx, d)
			if err != nil {
				logx.As().Warn().Err(err).Msg("could not determine data presence, leaving installed flag alone")
				return automa.SuccessReport(stp)
			}

			flagged := d.Occ.Installed(ctx)
			if present == flagged {
				return automa.SuccessReport(stp)
			}

			logx.As().Info().Bool("data_present", present).Bool("flag", flagged).
				Msg("installed flag disagrees with database contents, reconciling")
			if err := d.Occ.SetInstalled(ctx, present); err != nil {
				logx.As().Warn().Err(err).Msg("failed to reconcile installed flag")
			}
			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Reconciling installed flag")
			return ctx, nil
		})
}

// dataPresent checks whether the active backend holds the core user table.
// The conversion step may have flipped the backend earlier in the same run,
// so the persisted marker wins over the detected one.
func dataPresent(ctx context.Context, d *Deps) (bool, error) {
	backend := d.Backend
	if marker, ok, err := statestoreBackend(d); err == nil && ok {
		backend = marker
	}

	target := db.Target{
		Backend:  backend,
		Host:     d.Cfg.Database.Host,
		Port:     d.Cfg.Database.PostgresPort,
		Database: d.Cfg.Database.Name,
		Creds:    d.Creds,
	}
	if backend == core.BackendMySQL {
		target.Port = d.Cfg.Database.MySQLPort
	}

	conn, err := db.Open(target)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := db.WaitReady(ctx, conn, d.Cfg.Readiness.Attempts, d.Cfg.Readiness.Interval, logx.As()); err != nil {
		return false, err
	}
	return db.HasTable(ctx, conn, target, "oc_users")
}
