// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/version"
)

// UpgradeApplication runs the application self-upgrade followed by the
// schema repair commands. The upgrade only runs when the version shipped on
// disk differs from the one in the system config. All occ calls here are
// best-effort: a partially upgraded instance with maintenance mode left on
// would be the worst outcome, so the sequence always proceeds to the later
// cleanup steps.
func UpgradeApplication(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("upgrade-application").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			before, err := d.Occ.Version(ctx)
			if err != nil {
				logx.As().Debug().Err(err).Msg("could not read installed version")
			}

			if shouldUpgrade(d, before) {
				d.Occ.Upgrade(ctx)
			} else {
				logx.As().Info().Str("version", before).Msg("application already on the bundled version")
			}
			d.Occ.Repair(ctx)

			after, err := d.Occ.Version(ctx)
			if err == nil && before != "" {
				if upgraded, verr := version.UpgradeAvailable(before, after); verr == nil && upgraded {
					logx.As().Info().Str("from", before).Str("to", after).Msg("application upgraded")
				}
			}

			return automa.SuccessReport(stp, automa.WithMetadata(map[string]string{
				"version_before": before,
				"version_after":  after,
			}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Upgrading application")
			return ctx, nil
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "Application upgrade step completed")
		})
}

// shouldUpgrade compares the version in the system config with the one the
// package manager shipped on disk. When either side is unknown the upgrade
// runs anyway; occ upgrade is a no-op on an up-to-date instance.
func shouldUpgrade(d *Deps, installed string) bool {
	if installed == "" {
		return true
	}
	bundled, err := occ.BundledVersion(d.Cfg.Paths.NextcloudRoot)
	if err != nil {
		logx.As().Debug().Err(err).Msg("could not read bundled version")
		return true
	}

	upgrade, err := version.UpgradeAvailable(installed, bundled)
	if err != nil {
		return true
	}
	if upgrade {
		if skips, err := version.SkipsMajor(installed, bundled); err == nil && skips {
			logx.As().Warn().Str("installed", installed).Str("bundled", bundled).
				Msg("upgrade skips a major version, manual intervention may be required")
		}
	}
	return upgrade
}

// UpdateApps refreshes all installed apps after a successful core upgrade.
func UpdateApps(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("update-apps").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			d.Occ.UpdateApps(ctx)
			return automa.SuccessReport(stp)
		})
}

// RunHostMigrations executes pending one-time host migrations. A failed
// migration is logged and retried on the next run; it never aborts the
// sequence.
func RunHostMigrations(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("run-host-migrations").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			executed, err := d.Migrations.Run(ctx)
			if err != nil {
				logx.As().Warn().Err(err).Int("executed", executed).
					Msg("host migrations halted, will retry next run")
				return automa.SuccessReport(stp, automa.WithMetadata(map[string]string{
					"migrations": "halted",
				}))
			}

			logx.As().Info().Int("executed", executed).Msg("host migrations completed")
			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Running host migrations")
			return ctx, nil
		})
}
