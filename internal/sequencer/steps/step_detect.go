// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/notify"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

// DetectBackend probes the active database backend and persists the result
// as the backend marker. Detection never fails; an undetectable backend is
// recorded as none and later steps decide what that means for them.
func DetectBackend(d *Deps) automa.Builder {
	return automa.NewStepBuilder().WithId("detect-db-backend").
		WithExecute(func(ctx context.Context, stp automa.Step) *automa.Report {
			d.Backend = d.Probe.Detect(ctx)

			if err := statestore.SetBackendMarker(d.Store, d.Backend); err != nil {
				logx.As().Warn().Err(err).Msg("failed to persist backend marker")
			}

			logx.As().Info().Str("backend", string(d.Backend)).Msg("database backend detected")
			return automa.SuccessReport(stp,
				automa.WithMetadata(map[string]string{"backend": string(d.Backend)}))
		}).
		WithPrepare(func(ctx context.Context, stp automa.Step) (context.Context, error) {
			notify.As().StepStart(ctx, stp, "Detecting database backend")
			return ctx, nil
		}).
		WithOnCompletion(func(ctx context.Context, stp automa.Step, rpt *automa.Report) {
			notify.As().StepCompletion(ctx, stp, rpt, "Database backend detection completed")
		})
}
