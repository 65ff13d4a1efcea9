// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"
	"path/filepath"
	"time"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

const selfSignedValidity = 365 * 24 * time.Hour

func sslSnapshotDir(d *Deps) string {
	return filepath.Join(d.Cfg.Paths.StateDir, "ssl-snapshot")
}

// SnapshotSSLState records the current TLS setup and copies the certificate
// pair aside. Failures are logged but never block the sequence: losing an
// SSL snapshot is recoverable, a blocked upgrade is not.
func SnapshotSSLState(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("snapshot-ssl-state").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			state := d.SSL.Classify()

			if err := statestore.SetSSLMarker(d.Store, state); err != nil {
				logx.As().Warn().Err(err).Msg("failed to persist ssl marker")
			}
			if err := d.SSL.Snapshot(sslSnapshotDir(d)); err != nil {
				logx.As().Warn().Err(err).Msg("failed to snapshot certificates")
			}

			logx.As().Info().Str("ssl_state", string(state)).Msg("ssl state recorded")
			return automa.SuccessReport(stp,
				automa.WithMetadata(map[string]string{"ssl_state": string(state)}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Recording SSL state")
			return ctx, nil
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "SSL state recorded")
		})
}

// RestoreSSLState brings the pre-upgrade TLS setup back. The persisted marker
// decides the action: Let's Encrypt and custom setups are restored from the
// snapshot, a self-signed setup is regenerated when the upgrade wiped it, and
// a recorded no-SSL state is left alone. When no marker was ever taken and no
// certificate material exists either, a fresh self-signed pair is generated
// so the web server has something to serve TLS with.
func RestoreSSLState(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("restore-ssl-state").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			marker, ok, err := statestore.SSLMarker(d.Store)
			if err != nil {
				logx.As().Warn().Err(err).Msg("failed to read ssl marker")
				return automa.SuccessReport(stp)
			}
			if !ok {
				if d.SSL.Classify() != core.SSLNone {
					return automa.SkippedReport(stp)
				}
				logx.As().Info().Msg("no ssl snapshot and no certificate material, generating self-signed pair")
				if err := d.SSL.GenerateSelfSigned("localhost", selfSignedValidity); err != nil {
					logx.As().Warn().Err(err).Msg("failed to generate self-signed certificate")
					return automa.SuccessReport(stp)
				}
				if err := d.Services.Restart(ctx, d.Cfg.Services.WebServer); err != nil {
					logx.As().Warn().Err(err).Str("service", d.Cfg.Services.WebServer).
						Msg("failed to restart web server after certificate generation")
				}
				return automa.SuccessReport(stp,
					automa.WithMetadata(map[string]string{"ssl_state": "self-signed"}))
			}
			if marker == core.SSLNone {
				return automa.SkippedReport(stp)
			}

			current := d.SSL.Classify()
			if current == marker {
				logx.As().Info().Str("ssl_state", string(marker)).Msg("ssl state unchanged")
				return automa.SuccessReport(stp)
			}

			switch marker {
			case core.SSLSelfSigned:
				if current == core.SSLNone {
					if err := d.SSL.GenerateSelfSigned("localhost", selfSignedValidity); err != nil {
						logx.As().Warn().Err(err).Msg("failed to regenerate self-signed certificate")
					}
				}
			default:
				if err := d.SSL.Restore(sslSnapshotDir(d)); err != nil {
					logx.As().Warn().Err(err).Msg("failed to restore certificate snapshot")
				}
			}

			if err := d.Services.Restart(ctx, d.Cfg.Services.WebServer); err != nil {
				logx.As().Warn().Err(err).Str("service", d.Cfg.Services.WebServer).
					Msg("failed to restart web server after ssl restore")
			}

			logx.As().Info().Str("was", string(current)).Str("restored", string(marker)).
				Msg("ssl state restored")
			return automa.SuccessReport(stp)
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Restoring SSL state")
			return ctx, nil
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "SSL state restore completed")
		})
}
