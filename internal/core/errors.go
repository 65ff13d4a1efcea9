// SPDX-License-Identifier: Apache-2.0

package core

import "github.com/joomcode/errorx"

var (
	ErrNamespace = errorx.NewNamespace("ncadm")

	// MissingCredentials is the one hard-stop error class: without database
	// credentials there is no safe default and the command must exit non-zero.
	MissingCredentials = ErrNamespace.NewType("missing_credentials")

	ConfigNotFound = ErrNamespace.NewType("config_not_found", errorx.NotFound())

	// ConversionFailed reports that neither the live nor the offline
	// conversion path produced a usable PostgreSQL database.
	ConversionFailed = ErrNamespace.NewType("conversion_failed")
)
