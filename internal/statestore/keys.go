// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"strconv"

	"github.com/joomcode/errorx"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
)

// Well-known state keys. The file names form an on-disk contract with the
// plugin's other tooling, so they must stay stable.
const (
	KeyMigrationOrdinal = "migration-ordinal"
	KeyLastBackup       = "last-backup"
	KeyBackendType      = "db-type"
	KeySSLState         = "ssl-state"
)

// MigrationOrdinal returns the persisted migration step counter, defaulting
// to 0 when the key was never written.
func MigrationOrdinal(s Store) (int, error) {
	v, ok, err := s.Get(KeyMigrationOrdinal)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errorx.IllegalFormat.Wrap(err, "migration ordinal %q is not an integer", v)
	}
	if n < 0 {
		return 0, errorx.IllegalFormat.New("migration ordinal must not be negative, got %d", n)
	}
	return n, nil
}

// SetMigrationOrdinal persists the migration step counter.
func SetMigrationOrdinal(s Store, n int) error {
	return s.Set(KeyMigrationOrdinal, strconv.Itoa(n))
}

// LastBackupPath returns the absolute path of the most recent BackupRecord
// directory, if one was ever recorded.
func LastBackupPath(s Store) (string, bool, error) {
	return s.Get(KeyLastBackup)
}

// SetLastBackupPath updates the last-backup pointer.
func SetLastBackupPath(s Store, dir string) error {
	return s.Set(KeyLastBackup, dir)
}

// BackendMarker returns the persisted database backend classification.
func BackendMarker(s Store) (core.BackendType, bool, error) {
	v, ok, err := s.Get(KeyBackendType)
	if err != nil || !ok {
		return core.BackendNone, ok, err
	}
	return core.ParseBackendType(v), true, nil
}

// SetBackendMarker persists the database backend classification.
func SetBackendMarker(s Store, b core.BackendType) error {
	return s.Set(KeyBackendType, string(b))
}

// SSLMarker returns the persisted SSL state classification.
func SSLMarker(s Store) (core.SSLState, bool, error) {
	v, ok, err := s.Get(KeySSLState)
	if err != nil || !ok {
		return core.SSLNone, ok, err
	}
	return core.ParseSSLState(v), true, nil
}

// SetSSLMarker persists the SSL state classification.
func SetSSLMarker(s Store, state core.SSLState) error {
	return s.Set(KeySSLState, string(state))
}
