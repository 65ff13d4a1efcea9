// SPDX-License-Identifier: Apache-2.0

package core

import "strings"

// BackendType classifies the relational database engine currently serving
// Nextcloud. Exactly one value is authoritative at any instant; the Database
// Probe resolves disagreements by source priority.
type BackendType string

const (
	BackendNone       BackendType = "none"
	BackendMySQL      BackendType = "mysql"
	BackendPostgreSQL BackendType = "pgsql"
)

// ParseBackendType maps values found in config files and marker files to a
// BackendType. Unknown values map to BackendNone.
func ParseBackendType(s string) BackendType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql", "mariadb":
		return BackendMySQL
	case "pgsql", "postgres", "postgresql":
		return BackendPostgreSQL
	default:
		return BackendNone
	}
}

// SSLState classifies the TLS material serving the web frontend. It is
// snapshotted before an upgrade and restored verbatim afterwards, independent
// of the database migration outcome.
type SSLState string

const (
	SSLNone        SSLState = "none"
	SSLSelfSigned  SSLState = "self-signed"
	SSLLetsEncrypt SSLState = "letsencrypt"
	SSLCustom      SSLState = "custom"
)

// ParseSSLState maps a marker file value to an SSLState, defaulting to
// SSLNone for anything unrecognized.
func ParseSSLState(s string) SSLState {
	switch SSLState(strings.ToLower(strings.TrimSpace(s))) {
	case SSLSelfSigned:
		return SSLSelfSigned
	case SSLLetsEncrypt:
		return SSLLetsEncrypt
	case SSLCustom:
		return SSLCustom
	default:
		return SSLNone
	}
}
