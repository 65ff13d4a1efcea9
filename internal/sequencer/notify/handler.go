// SPDX-License-Identifier: Apache-2.0

// Package notify routes update-sequence step events to the operator. The
// default handler logs; the CLI may replace it to print progress banners or
// forward events elsewhere.
package notify

import (
	"context"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"
)

var handler = &Handler{
	StepStart: func(ctx context.Context, stp automa.Step, msg string, args ...interface{}) {
		logx.As().Info().
			Str("sequence_step", stp.Id()).
			Msgf(msg, args...)
	},
	StepCompletion: func(ctx context.Context, stp automa.Step, report *automa.Report, msg string, args ...interface{}) {
		logx.As().Info().
			Str("sequence_step", stp.Id()).
			Str("status", report.Status.String()).
			Msgf(msg, args...)
	},
	StepFailure: func(ctx context.Context, stp automa.Step, report *automa.Report, msg string, args ...interface{}) {
		// The operator needs the step that broke the sequence, not the
		// aggregate, so dig the first failing sub-report out when present.
		cause := report
		for _, stepReport := range report.StepReports {
			if stepReport.HasError() {
				cause = stepReport
				break
			}
		}

		l := logx.As().Error().Err(report.Error).
			Str("sequence_step", stp.Id()).
			Str("status", report.Status.String())
		if cause.Id != report.Id {
			l.
				Str("cause", cause.Error.Error()).
				Str("cause_step", cause.Id)
		}

		l.Msgf(msg, args...)
	},
}

// Handler defines callbacks for step events.
type Handler struct {
	StepStart      func(ctx context.Context, stp automa.Step, msg string, args ...interface{})
	StepCompletion func(ctx context.Context, stp automa.Step, report *automa.Report, msg string, args ...interface{})
	StepFailure    func(ctx context.Context, stp automa.Step, report *automa.Report, msg string, args ...interface{})
}

// SetDefault replaces the default callback handler for step events.
// Only non-nil callbacks are updated so partial overrides are possible.
func SetDefault(h *Handler) {
	if h.StepStart != nil {
		handler.StepStart = h.StepStart
	}

	if h.StepCompletion != nil {
		handler.StepCompletion = h.StepCompletion
	}

	if h.StepFailure != nil {
		handler.StepFailure = h.StepFailure
	}
}

// As returns the current notification handler
func As() *Handler {
	return handler
}
