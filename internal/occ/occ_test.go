// SPDX-License-Identifier: Apache-2.0

package occ

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
)

type recordedCall struct {
	name string
	args []string
}

func fakeRunner(calls *[]recordedCall, out string, err error) Runner {
	return func(_ context.Context, name string, args ...string) (string, error) {
		*calls = append(*calls, recordedCall{name: name, args: args})
		return out, err
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Paths: config.PathsConfig{
			PHPBinary: "/usr/local/bin/php",
			OccPath:   "/usr/local/www/nextcloud/occ",
			RunAsUser: "www",
		},
	}
}

func TestRunWrapsWithSu(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "ok", nil)))

	out, err := c.Run(context.Background(), "status")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Len(t, calls, 1)
	require.Equal(t, "su", calls[0].name)
	require.Equal(t, []string{"-m", "www", "-c", "/usr/local/bin/php /usr/local/www/nextcloud/occ status"}, calls[0].args)
}

func TestRunQuotesUnsafeArguments(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "", nil)))

	_, err := c.Run(context.Background(),
		"config:system:set", "dbpassword", "--value", "p4ss word; rm -rf /", "--type", "string")
	require.NoError(t, err)

	script := calls[0].args[3]
	require.Equal(t,
		"/usr/local/bin/php /usr/local/www/nextcloud/occ config:system:set dbpassword --value 'p4ss word; rm -rf /' --type string",
		script)

	// Embedded single quotes survive the quoting round-trip.
	calls = nil
	_, err = c.Run(context.Background(), "db:convert-type", "--password", "o'brien", "pgsql")
	require.NoError(t, err)
	require.Contains(t, calls[0].args[3], `--password 'o'\''brien' pgsql`)
}

func TestRunWithoutRunAsUser(t *testing.T) {
	cfg := testConfig()
	cfg.Paths.RunAsUser = ""

	var calls []recordedCall
	c := New(cfg, WithRunner(fakeRunner(&calls, "", nil)))

	_, err := c.Run(context.Background(), "upgrade")
	require.NoError(t, err)
	require.Equal(t, "/usr/local/bin/php", calls[0].name)
	require.Equal(t, []string{"/usr/local/www/nextcloud/occ", "upgrade"}, calls[0].args)
}

func TestMaintenanceModeTolerateFailure(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "", errorx.IllegalState.New("no such file"))))

	// Must not panic or propagate the error.
	c.MaintenanceMode(context.Background(), true)
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].args[3], "maintenance:mode --on")
}

func TestRepairRunsSchemaCatchup(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "", nil)))

	c.Repair(context.Background())
	require.Len(t, calls, 4)
	require.Contains(t, calls[0].args[3], "maintenance:repair")
	require.Contains(t, calls[1].args[3], "db:add-missing-indices")
	require.Contains(t, calls[2].args[3], "db:add-missing-columns")
	require.Contains(t, calls[3].args[3], "db:add-missing-primary-keys")
}

func TestConvertTypePropagatesError(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "boom", errorx.IllegalState.New("exit 1"))))

	err := c.ConvertType(context.Background(), "pgsql", "nextcloud", "secret", "localhost", "nextcloud")
	require.Error(t, err)
	require.Contains(t, calls[0].args[3], "db:convert-type --all-apps --password secret pgsql nextcloud localhost nextcloud")
}

func TestInstalled(t *testing.T) {
	var calls []recordedCall
	c := New(testConfig(), WithRunner(fakeRunner(&calls, "true", nil)))
	require.True(t, c.Installed(context.Background()))

	c = New(testConfig(), WithRunner(fakeRunner(&calls, "", errorx.IllegalState.New("broken"))))
	require.False(t, c.Installed(context.Background()))
}

func TestBundledVersion(t *testing.T) {
	root := t.TempDir()
	php := `<?php
$OC_Version = array(29,0,4,1);
$OC_VersionString = '29.0.4';
$OC_Channel = 'stable';
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "version.php"), []byte(php), 0o644))

	v, err := BundledVersion(root)
	require.NoError(t, err)
	require.Equal(t, "29.0.4", v)
}

func TestBundledVersionMissingFile(t *testing.T) {
	_, err := BundledVersion(t.TempDir())
	require.Error(t, err)
}
