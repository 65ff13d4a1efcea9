// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"
	"github.com/joomcode/errorx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

func statestoreBackend(d *Deps) (core.BackendType, bool, error) {
	return statestore.BackendMarker(d.Store)
}

// ProvisionPostgres creates the application role and database on the new
// backend. Idempotent: repeated runs converge on the same account. Missing
// credentials always fail the step; an unreachable server fails it only in
// strict mode, otherwise the conversion step reports the consequence while
// the restore and repair steps behind it still run.
func ProvisionPostgres(d *Deps, strict bool) automa.Builder {
	return automa.NewStepBuilder().WithId("provision-postgres").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if d.CredsErr != nil {
				return automa.FailureReport(stp, automa.WithError(d.CredsErr))
			}

			if err := provisionTarget(ctx, d); err != nil {
				if strict {
					return automa.FailureReport(stp, automa.WithError(err))
				}
				logx.As().Warn().Err(err).Msg("postgresql provisioning failed")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"provisioning": "failed"}))
			}

			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Provisioning PostgreSQL role and database")
			return ctx, nil
		}).
		WithOnFailure(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepFailure(ctx, stp, rpt, "PostgreSQL provisioning failed")
		})
}

// ConvertDatabase migrates the application data from MySQL to PostgreSQL and
// repoints the application config. Skipped when the detected backend is
// already PostgreSQL or no backend exists at all. Missing credentials are
// the one hard stop; a failed conversion fails the step only in strict mode.
// In the post-update sequence the instance must come back on its old backend
// when the conversion does not go through, so the SSL restore, service
// restart and maintenance-off steps behind this one have to run regardless.
func ConvertDatabase(d *Deps, strict bool) automa.Builder {
	return automa.NewStepBuilder().WithId("convert-database").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if d.Backend != core.BackendMySQL {
				logx.As().Info().Str("backend", string(d.Backend)).Msg("no mysql backend, conversion not needed")
				return automa.SkippedReport(stp)
			}
			if d.CredsErr != nil {
				return automa.FailureReport(stp, automa.WithError(d.CredsErr))
			}

			att, err := d.Converter.Run(ctx, d.Creds, d.MySQLUp)
			if err == nil {
				err = d.Converter.Done(ctx, d.Creds)
				if err != nil {
					err = errorx.Decorate(err, "failed to repoint application at postgresql")
				}
			} else {
				err = errorx.Decorate(err, "database conversion failed")
			}
			if err != nil {
				if strict {
					return automa.FailureReport(stp, automa.WithError(err))
				}
				logx.As().Warn().Err(err).Msg("conversion failed, instance stays on mysql")
				return automa.SuccessReport(stp, automa.WithMetadata(map[string]string{
					"conversion": "failed",
				}))
			}

			logx.As().Info().Str("method", string(att.Method)).Int("tables", att.Tables).
				Msg("database conversion finished")
			return automa.SuccessReport(stp, automa.WithMetadata(map[string]string{
				"method": string(att.Method),
			}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Converting database to PostgreSQL")
			return ctx, nil
		}).
		WithOnFailure(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepFailure(ctx, stp, rpt, "Database conversion failed")
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "Database conversion step completed")
		})
}

// AttemptEarlyConversion tries the live conversion during pre-update, while
// both database servers are still on the old package versions. Everything
// here is opportunistic: any failure is logged and the post-update
// conversion step finishes the job. The already-migrated probe inside the
// converter keeps a successful early run from converting twice.
func AttemptEarlyConversion(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("attempt-early-conversion").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if d.Backend != core.BackendMySQL {
				return automa.SkippedReport(stp)
			}
			if d.CredsErr != nil {
				logx.As().Warn().Err(d.CredsErr).Msg("no credentials, skipping early conversion")
				return automa.SkippedReport(stp)
			}

			if _, err := service.StartIfStopped(ctx, d.Services, d.Cfg.Services.PostgreSQL); err != nil {
				logx.As().Warn().Err(err).Msg("postgresql unavailable, deferring conversion to post-update")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"early_conversion": "deferred"}))
			}

			if err := provisionTarget(ctx, d); err != nil {
				logx.As().Warn().Err(err).Msg("provisioning failed, deferring conversion to post-update")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"early_conversion": "deferred"}))
			}

			_, mysqlErr := service.StartIfStopped(ctx, d.Services, d.Cfg.Services.MySQL)
			mysqlUp := mysqlErr == nil

			att, err := d.Converter.Run(ctx, d.Creds, mysqlUp)
			if err != nil {
				logx.As().Warn().Err(err).Msg("early conversion failed, deferring to post-update")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"early_conversion": "deferred"}))
			}
			if err := d.Converter.Done(ctx, d.Creds); err != nil {
				logx.As().Warn().Err(err).Msg("failed to repoint application, deferring to post-update")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"early_conversion": "deferred"}))
			}

			logx.As().Info().Str("method", string(att.Method)).Msg("early conversion finished")
			return automa.SuccessReport(stp, automa.WithMetadata(map[string]string{
				"early_conversion": string(att.Method),
			}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Attempting early database conversion")
			return ctx, nil
		})
}

// provisionTarget creates the application role and database via the local
// superuser account.
func provisionTarget(ctx context.Context, d *Deps) error {
	admin, err := db.Open(d.adminTarget())
	if err != nil {
		return err
	}
	defer admin.Close()

	if err := db.WaitReady(ctx, admin, d.Cfg.Readiness.Attempts, d.Cfg.Readiness.Interval, logx.As()); err != nil {
		return err
	}
	if err := db.EnsureRole(ctx, admin, d.Creds); err != nil {
		return err
	}
	return db.EnsureDatabase(ctx, admin, d.Cfg.Database.Name, d.Creds.User)
}
