// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/db"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
)

// EnsureDatabaseServices brings up the database services the rest of the
// sequence needs: PostgreSQL, and MySQL opportunistically when it is still
// the active backend, so the live conversion path has something to read
// from. Neither being unstartable is an error here: a dead MySQL routes the
// converter onto the offline path, and a dead PostgreSQL surfaces in the
// conversion step while the restore and repair steps behind it still run.
func EnsureDatabaseServices(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("ensure-db-services").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			if _, err := service.StartIfStopped(ctx, d.Services, d.Cfg.Services.PostgreSQL); err != nil {
				logx.As().Warn().Err(err).Msg("postgresql could not be started")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"postgresql": "unavailable"}))
			}

			if d.Backend == core.BackendMySQL {
				if _, err := service.StartIfStopped(ctx, d.Services, d.Cfg.Services.MySQL); err != nil {
					logx.As().Warn().Err(err).Msg("mysql could not be started, live conversion unavailable")
					d.MySQLUp = false
				} else {
					d.MySQLUp = true
				}
			}

			return automa.SuccessReport(stp)
		})
}

// WaitPostgresReady waits until PostgreSQL accepts connections. service(8)
// returns before the server listens, so this gate covers the later steps
// that open a connection. An exhausted budget only warns; the sequence
// proceeds optimistically and the steps that actually need the database
// report their own outcome.
func WaitPostgresReady(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("wait-postgres-ready").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			conn, err := db.Open(d.adminTarget())
			if err == nil {
				defer conn.Close()
				err = db.WaitReady(ctx, conn, d.Cfg.Readiness.Attempts, d.Cfg.Readiness.Interval, logx.As())
			}
			if err != nil {
				logx.As().Warn().Err(err).Msg("postgresql not ready, proceeding anyway")
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"postgres_ready": "false"}))
			}
			return automa.SuccessReport(stp)
		})
}

// RestartWebServices brings the non-database services back after the
// upgrade: a stopped service is started, a running one is restarted so it
// picks up the new application code. Individual failures are logged; a dead
// cache daemon should not abort the sequence at this point.
func RestartWebServices(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("restart-web-services").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			svcs := d.Cfg.Services
			for _, name := range []string{svcs.Cache, svcs.PHPFpm, svcs.WebServer, svcs.Fail2ban} {
				if name == "" {
					continue
				}
				running, err := d.Services.Status(ctx, name)
				if err != nil {
					logx.As().Warn().Err(err).Str("service", name).Msg("service status check failed")
					continue
				}

				if running {
					err = d.Services.Restart(ctx, name)
				} else {
					err = d.Services.Start(ctx, name)
				}
				if err != nil {
					logx.As().Warn().Err(err).Str("service", name).Msg("service restart failed")
				}
			}
			return automa.SuccessReport(stp)
		})
}

// StopManagedServices shuts every managed service down, databases included.
// Pre-update runs this last so the package upgrade starts from a quiescent
// jail. Best-effort throughout.
func StopManagedServices(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("stop-managed-services").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			for _, name := range d.Cfg.Services.Managed() {
				if name == "" {
					continue
				}
				if err := d.Services.Stop(ctx, name); err != nil {
					logx.As().Warn().Err(err).Str("service", name).Msg("service stop failed")
				}
			}
			return automa.SuccessReport(stp)
		})
}

// StopMySQLIfConverted shuts the old backend down once PostgreSQL serves the
// application, freeing its memory. Best-effort.
func StopMySQLIfConverted(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("stop-mysql-if-converted").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			marker, ok, err := statestoreBackend(d)
			if err != nil || !ok || marker != core.BackendPostgreSQL {
				return automa.SkippedReport(stp)
			}
			if err := d.Services.Stop(ctx, d.Cfg.Services.MySQL); err != nil {
				logx.As().Warn().Err(err).Msg("failed to stop mysql")
			}
			return automa.SuccessReport(stp)
		})
}
