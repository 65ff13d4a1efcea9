// SPDX-License-Identifier: Apache-2.0

package steps

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/automa-saga/automa"
	"gopkg.in/yaml.v3"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// PrintWorkflowReport prints the workflow execution report in YAML format and
// persists it at reportPath when one is given, so a failed sequence can be
// diagnosed from the logs directory alone.
var PrintWorkflowReport = func(report *automa.Report, reportPath string) {
	b, err := yaml.Marshal(report)
	if err != nil {
		fmt.Printf("Failed to marshal report: %v\n", err)
		return
	}

	if reportPath != "" {
		if err := os.MkdirAll(filepath.Dir(reportPath), core.DefaultDirPerm); err == nil {
			err = os.WriteFile(reportPath, b, core.DefaultFilePerm)
		}
		if err != nil {
			fmt.Printf("Failed to persist report at %s: %v\n", reportPath, err)
		}
	}

	fmt.Printf("Workflow Execution Report:\n%s\n", b)
}
