// SPDX-License-Identifier: Apache-2.0

package version

import (
	"github.com/Masterminds/semver/v3"
	"github.com/joomcode/errorx"
)

// UpgradeAvailable reports whether target is a newer release than installed.
// Nextcloud reports versions like "27.1.4.1"; the fourth segment is ignored.
func UpgradeAvailable(installed, target string) (bool, error) {
	cur, err := parseNextcloudVersion(installed)
	if err != nil {
		return false, err
	}
	next, err := parseNextcloudVersion(target)
	if err != nil {
		return false, err
	}
	return next.GreaterThan(cur), nil
}

// SkipsMajor reports whether moving from installed to target would skip a
// major release. Nextcloud only supports upgrading one major at a time.
func SkipsMajor(installed, target string) (bool, error) {
	cur, err := parseNextcloudVersion(installed)
	if err != nil {
		return false, err
	}
	next, err := parseNextcloudVersion(target)
	if err != nil {
		return false, err
	}
	return next.Major() > cur.Major()+1, nil
}

func parseNextcloudVersion(s string) (*semver.Version, error) {
	v, err := semver.NewVersion(truncateToSemver(s))
	if err != nil {
		return nil, errorx.IllegalFormat.Wrap(err, "failed to parse version %q", s)
	}
	return v, nil
}

// truncateToSemver drops the fourth dotted segment of Nextcloud versions.
func truncateToSemver(s string) string {
	dots := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			dots++
			if dots == 3 {
				return s[:i]
			}
		}
	}
	return s
}
