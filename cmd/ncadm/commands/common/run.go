// SPDX-License-Identifier: Apache-2.0

package common

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/automa-saga/automa"
	"github.com/automa-saga/logx"
	"github.com/spf13/cobra"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/doctor"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer/steps"
)

// RunWorkflow executes a workflow and handles error
func RunWorkflow(ctx context.Context, b automa.Builder) {
	wb, err := b.Build()
	if err != nil {
		doctor.CheckErr(ctx, err)
	}

	report := wb.Execute(ctx)
	CheckWorkflowReport(ctx, report)
}

func CheckWorkflowReport(ctx context.Context, report *automa.Report) {
	if report.Error != nil {
		doctor.CheckReportErr(ctx, report)
	}

	for _, stepReport := range report.StepReports {
		if stepReport.Status == automa.StatusFailed {
			doctor.CheckReportErr(ctx, stepReport)
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	reportPath := path.Join(config.Get().Paths.LogsDir, fmt.Sprintf("sequence_report_%s.yaml", timestamp))
	steps.PrintWorkflowReport(report, reportPath)
	logx.As().Info().Str("report_path", reportPath).Msg("Workflow report is saved")
}

// DefaultRunE shows the help message. Commands always carry a run function so
// cobra marks them runnable and invokes the root PersistentPreRunE hooks.
func DefaultRunE(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}
