// SPDX-License-Identifier: Apache-2.0

// Package probe determines which database backend a Nextcloud instance is
// using. Sources are consulted in priority order, from the application's own
// configuration down to live service state. Detection never fails: when no
// source yields an answer the backend is reported as none.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/config"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/core"
	"github.com/damvcoool/iocage-plugin-nextcloud/internal/service"
)

// Source reads one piece of evidence about the active backend. It returns
// BackendNone when it has no opinion.
type Source interface {
	Name() string
	Detect(ctx context.Context) core.BackendType
}

// Detector runs sources in order and returns the first non-none answer.
type Detector struct {
	sources []Source
	log     *zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger injects a logger instance.
func WithLogger(log *zerolog.Logger) Option {
	return func(d *Detector) {
		if log != nil {
			d.log = log
		}
	}
}

// WithSources replaces the default source chain.
func WithSources(sources ...Source) Option {
	return func(d *Detector) {
		d.sources = sources
	}
}

// New returns a Detector with the default source chain: the application's
// config.php first, then rc.conf enablement flags, then live service status.
func New(cfg *config.Config, mgr service.Manager, opts ...Option) *Detector {
	nop := zerolog.Nop()
	d := &Detector{
		sources: []Source{
			&configPHPSource{path: filepath.Join(cfg.Paths.NextcloudConfigDir, "config.php")},
			&rcConfSource{mgr: mgr, mysql: cfg.Services.MySQL, postgres: cfg.Services.PostgreSQL},
			&liveServiceSource{mgr: mgr, mysql: cfg.Services.MySQL, postgres: cfg.Services.PostgreSQL},
		},
		log: &nop,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Detect returns the first backend any source reports. It never errors.
func (d *Detector) Detect(ctx context.Context) core.BackendType {
	for _, src := range d.sources {
		if backend := src.Detect(ctx); backend != core.BackendNone {
			d.log.Debug().Str("source", src.Name()).Str("backend", string(backend)).
				Msg("database backend detected")
			return backend
		}
	}
	d.log.Debug().Msg("no database backend detected")
	return core.BackendNone
}

// dbtypeRe matches the dbtype entry in config.php, e.g.
//
//	'dbtype' => 'pgsql',
var dbtypeRe = regexp.MustCompile(`['"]dbtype['"]\s*=>\s*['"]([a-z]+)['"]`)

type configPHPSource struct {
	path string
}

func (s *configPHPSource) Name() string { return "config.php" }

func (s *configPHPSource) Detect(_ context.Context) core.BackendType {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return core.BackendNone
	}
	match := dbtypeRe.FindSubmatch(data)
	if match == nil {
		return core.BackendNone
	}
	return core.ParseBackendType(string(match[1]))
}

type rcConfSource struct {
	mgr      service.Manager
	mysql    string
	postgres string
}

func (s *rcConfSource) Name() string { return "rc.conf" }

func (s *rcConfSource) Detect(_ context.Context) core.BackendType {
	// PostgreSQL wins when both are enabled: the conversion flow leaves
	// the MySQL flag behind until cleanup runs.
	if enabled, err := s.mgr.IsEnabled(s.postgres); err == nil && enabled {
		return core.BackendPostgreSQL
	}
	if enabled, err := s.mgr.IsEnabled(s.mysql); err == nil && enabled {
		return core.BackendMySQL
	}
	return core.BackendNone
}

type liveServiceSource struct {
	mgr      service.Manager
	mysql    string
	postgres string
}

func (s *liveServiceSource) Name() string { return "service-status" }

func (s *liveServiceSource) Detect(ctx context.Context) core.BackendType {
	if running, err := s.mgr.Status(ctx, s.postgres); err == nil && running {
		return core.BackendPostgreSQL
	}
	if running, err := s.mgr.Status(ctx, s.mysql); err == nil && running {
		return core.BackendMySQL
	}
	return core.BackendNone
}
