// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/automa-saga/logx"
	"github.com/spf13/cobra"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/sequencer"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

var detectCmd = &cobra.Command{
	Use:   "detect-db",
	Short: "Detect the active database backend",
	Long:  "Probe the application config, rc.conf and live services to determine which database backend serves Nextcloud",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := sequencer.NewDeps(config.Get())

		backend := d.Probe.Detect(cmd.Context())
		if err := statestore.SetBackendMarker(d.Store, backend); err != nil {
			logx.As().Warn().Err(err).Msg("failed to persist backend marker")
		}

		cmd.Println(string(backend))
		return nil
	},
}
