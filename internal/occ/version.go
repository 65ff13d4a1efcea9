// SPDX-License-Identifier: Apache-2.0

package occ

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/joomcode/errorx"
)

var versionStringRe = regexp.MustCompile(`\$OC_VersionString\s*=\s*'([^']+)'`)

// BundledVersion reads the application version shipped on disk from the
// version.php the package manager installed. Comparing it with the version in
// the system config tells whether occ upgrade has work to do.
func BundledVersion(nextcloudRoot string) (string, error) {
	path := filepath.Join(nextcloudRoot, "version.php")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errorx.IllegalState.Wrap(err, "failed to read %s", path)
	}

	m := versionStringRe.FindSubmatch(data)
	if m == nil {
		return "", errorx.IllegalFormat.New("no version string in %s", path)
	}
	return string(m[1]), nil
}
