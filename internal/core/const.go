// SPDX-License-Identifier: Apache-2.0

package core

const (
	DefaultDirPerm  = 0o755
	DefaultFilePerm = 0o644
	SecretFilePerm  = 0o600
)
