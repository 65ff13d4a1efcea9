// SPDX-License-Identifier: Apache-2.0

// Package service manages FreeBSD rc.d services via service(8) and reads
// enablement flags from rc.conf.
package service

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/occ"
)

// Manager controls rc.d services.
type Manager interface {
	// Status reports whether the named service is currently running.
	Status(ctx context.Context, name string) (bool, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	// IsEnabled reports whether the service is enabled in rc.conf.
	IsEnabled(name string) (bool, error)
}

type rcdManager struct {
	rcConfPath string
	run        occ.Runner
	log        *zerolog.Logger
}

// Option configures a Manager.
type Option func(*rcdManager)

// WithRunner injects the subprocess runner.
func WithRunner(r occ.Runner) Option {
	return func(m *rcdManager) {
		if r != nil {
			m.run = r
		}
	}
}

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(m *rcdManager) {
		if log != nil {
			m.log = log
		}
	}
}

// New returns a Manager backed by service(8) and the given rc.conf path.
func New(rcConfPath string, opts ...Option) Manager {
	nop := zerolog.Nop()
	m := &rcdManager{
		rcConfPath: rcConfPath,
		run:        occ.ExecRunner,
		log:        &nop,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *rcdManager) Status(ctx context.Context, name string) (bool, error) {
	// onestatus exits non-zero when the service is stopped; that is a
	// valid answer, not an error.
	out, err := m.run(ctx, "service", name, "onestatus")
	if err != nil {
		if strings.Contains(out, "does not exist") || strings.Contains(out, "unknown directive") {
			return false, errorx.IllegalArgument.Wrap(err, "service %s not found", name)
		}
		return false, nil
	}
	return strings.Contains(out, "is running"), nil
}

func (m *rcdManager) Start(ctx context.Context, name string) error {
	out, err := m.run(ctx, "service", name, "onestart")
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to start %s: %s", name, out)
	}
	m.log.Info().Str("service", name).Msg("service started")
	return nil
}

func (m *rcdManager) Stop(ctx context.Context, name string) error {
	out, err := m.run(ctx, "service", name, "onestop")
	if err != nil {
		// Stopping an already stopped service is not a failure.
		if strings.Contains(out, "not running") {
			return nil
		}
		return errorx.IllegalState.Wrap(err, "failed to stop %s: %s", name, out)
	}
	m.log.Info().Str("service", name).Msg("service stopped")
	return nil
}

func (m *rcdManager) Restart(ctx context.Context, name string) error {
	out, err := m.run(ctx, "service", name, "onerestart")
	if err != nil {
		return errorx.IllegalState.Wrap(err, "failed to restart %s: %s", name, out)
	}
	m.log.Info().Str("service", name).Msg("service restarted")
	return nil
}

// rc.conf variable names drop the "-server" suffix and dashes, e.g.
// mysql-server enables via mysql_enable.
func rcVarName(service string) string {
	name := strings.TrimSuffix(service, "-server")
	name = strings.ReplaceAll(name, "-", "_")
	return name + "_enable"
}

var rcLineRe = regexp.MustCompile(`^\s*([A-Za-z0-9_]+)\s*=\s*"?([^"#]*)"?`)

func (m *rcdManager) IsEnabled(name string) (bool, error) {
	data, err := os.ReadFile(m.rcConfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errorx.IllegalState.Wrap(err, "failed to read %s", m.rcConfPath)
	}

	want := rcVarName(name)
	enabled := false
	for _, line := range strings.Split(string(data), "\n") {
		match := rcLineRe.FindStringSubmatch(line)
		if match == nil || match[1] != want {
			continue
		}
		// Last assignment wins, matching rc.conf semantics.
		enabled = strings.EqualFold(strings.TrimSpace(match[2]), "YES")
	}
	return enabled, nil
}

// StartIfStopped starts the service when it is not running and reports
// whether this call started it, so the caller can restore the prior state.
func StartIfStopped(ctx context.Context, m Manager, name string) (bool, error) {
	running, err := m.Status(ctx, name)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}
	if err := m.Start(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}
