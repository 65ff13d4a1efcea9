// SPDX-License-Identifier: Apache-2.0

// Package occ wraps the Nextcloud command line interface. Nextcloud is a
// black box to the orchestrator: every operation is a subprocess invocation
// of the occ script, and with few exceptions a failed call is logged and
// tolerated so the surrounding upgrade sequence keeps moving.
package occ

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
)

// Runner executes a command and returns its combined trimmed output. It is a
// variable-typed dependency so tests can fake subprocess behavior.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// ExecRunner is the default Runner backed by os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	val := strings.TrimSpace(string(out))
	if err != nil {
		return val, errorx.IllegalState.Wrap(err, "command %s failed: %s", name, val)
	}
	return val, nil
}

// Client invokes occ commands as the web server user.
type Client struct {
	php     string
	occPath string
	runAs   string
	run     Runner
	log     *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRunner injects a Runner, replacing the default subprocess execution.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.run = r
		}
	}
}

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns a Client for the occ script configured in cfg.
func New(cfg *config.Config, opts ...Option) *Client {
	nop := zerolog.Nop()
	c := &Client{
		php:     cfg.Paths.PHPBinary,
		occPath: cfg.Paths.OccPath,
		runAs:   cfg.Paths.RunAsUser,
		run:     ExecRunner,
		log:     &nop,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run executes "occ <args...>" and returns its trimmed output. PHP cannot run
// occ as root, so when a run-as user is configured the invocation is wrapped
// with su(1). The su script goes through a shell, so every word is quoted;
// database passwords regularly carry whitespace and metacharacters.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	if c.runAs != "" {
		words := make([]string, 0, len(args)+2)
		for _, w := range append([]string{c.php, c.occPath}, args...) {
			words = append(words, shellQuote(w))
		}
		return c.run(ctx, "su", "-m", c.runAs, "-c", strings.Join(words, " "))
	}
	return c.run(ctx, c.php, append([]string{c.occPath}, args...)...)
}

var shellSafeRe = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

// shellQuote single-quotes a word for sh(1) unless it only contains safe
// characters.
func shellQuote(s string) string {
	if shellSafeRe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tryRun executes an occ command and downgrades any failure to a warning.
func (c *Client) tryRun(ctx context.Context, args ...string) {
	if out, err := c.Run(ctx, args...); err != nil {
		c.log.Warn().Err(err).Str("command", strings.Join(args, " ")).Str("output", out).
			Msg("occ command failed, continuing")
	}
}

// MaintenanceMode toggles the application maintenance flag. Best-effort: on a
// fresh install occ may not exist yet and its absence is tolerated.
func (c *Client) MaintenanceMode(ctx context.Context, on bool) {
	flag := "--off"
	if on {
		flag = "--on"
	}
	c.tryRun(ctx, "maintenance:mode", flag)
}

// Upgrade runs the application self-upgrade.
func (c *Client) Upgrade(ctx context.Context) {
	c.tryRun(ctx, "upgrade")
}

// Repair runs maintenance:repair plus the schema catch-up commands that
// Nextcloud releases tend to require after an upgrade.
func (c *Client) Repair(ctx context.Context) {
	c.tryRun(ctx, "maintenance:repair")
	c.tryRun(ctx, "db:add-missing-indices")
	c.tryRun(ctx, "db:add-missing-columns")
	c.tryRun(ctx, "db:add-missing-primary-keys")
}

// UpdateApps updates all installed apps.
func (c *Client) UpdateApps(ctx context.Context) {
	c.tryRun(ctx, "app:update", "--all")
}

// ConvertType runs the built-in cross-database conversion, reading live from
// the current backend and writing schema plus data into the target. Unlike
// most occ calls this one reports its failure: the converter falls back to
// the offline rewrite path when it errors.
func (c *Client) ConvertType(ctx context.Context, driver, user, password, host, database string) error {
	out, err := c.Run(ctx, "db:convert-type", "--all-apps", "--password", password, driver, user, host, database)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "db:convert-type failed: %s", out)
	}
	return nil
}

// ConfigGet reads a system config value. A missing key returns "".
func (c *Client) ConfigGet(ctx context.Context, key string) (string, error) {
	return c.Run(ctx, "config:system:get", key)
}

// ConfigSet writes a system config value.
func (c *Client) ConfigSet(ctx context.Context, key, value string, extra ...string) error {
	args := append([]string{"config:system:set", key, "--value", value}, extra...)
	out, err := c.Run(ctx, args...)
	if err != nil {
		return errorx.IllegalState.Wrap(err, "config:system:set %s failed: %s", key, out)
	}
	return nil
}

// ConfigDelete removes a system config key.
func (c *Client) ConfigDelete(ctx context.Context, key string) {
	c.tryRun(ctx, "config:system:delete", key)
}

// Version returns the installed application version from the system config.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.ConfigGet(ctx, "version")
}

// Installed reports whether the system config flags the instance as
// installed. Errors are treated as "not installed" so a broken config does
// not block the reconcile step.
func (c *Client) Installed(ctx context.Context) bool {
	out, err := c.ConfigGet(ctx, "installed")
	if err != nil {
		return false
	}
	return strings.EqualFold(out, "true") || out == "1"
}

// SetInstalled reconciles the installed flag.
func (c *Client) SetInstalled(ctx context.Context, installed bool) error {
	v := "false"
	if installed {
		v = "true"
	}
	return c.ConfigSet(ctx, "installed", v, "--type", "boolean")
}
