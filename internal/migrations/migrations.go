// SPDX-License-Identifier: Apache-2.0

// Package migrations runs one-time host migrations in a fixed order. Each
// step carries an ordinal; a persisted counter records the highest ordinal
// already applied, so repeated runs skip finished work and a failed step can
// be retried on the next run.
package migrations

import (
	"context"
	"sort"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

// Step is one host migration.
type Step struct {
	// Ordinal orders steps and gates execution. Ordinals start at 1 and
	// must be unique within a registry.
	Ordinal int
	Name    string
	Run     func(ctx context.Context) error
}

// Registry holds the known migration steps.
type Registry struct {
	steps []Step
}

// NewRegistry returns a Registry over the given steps, sorted by ordinal.
func NewRegistry(steps ...Step) (*Registry, error) {
	seen := map[int]string{}
	for _, s := range steps {
		if s.Ordinal < 1 {
			return nil, errorx.IllegalArgument.New("step %q has invalid ordinal %d", s.Name, s.Ordinal)
		}
		if other, dup := seen[s.Ordinal]; dup {
			return nil, errorx.IllegalArgument.New("steps %q and %q share ordinal %d", other, s.Name, s.Ordinal)
		}
		seen[s.Ordinal] = s.Name
	}

	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })
	return &Registry{steps: sorted}, nil
}

// Steps returns the registered steps in ordinal order.
func (r *Registry) Steps() []Step { return r.steps }

// Runner executes pending migrations against the persisted ordinal.
type Runner struct {
	registry *Registry
	store    statestore.Store
	log      *zerolog.Logger
}

// NewRunner returns a Runner.
func NewRunner(registry *Registry, store statestore.Store, log *zerolog.Logger) *Runner {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Runner{registry: registry, store: store, log: log}
}

// Run executes every step with an ordinal above the persisted counter, in
// order. The counter advances only after a step succeeds; a failing step
// halts the run and stays pending, so the next run retries it. The number of
// executed steps is returned alongside the error, which the caller may treat
// as non-fatal.
func (r *Runner) Run(ctx context.Context) (int, error) {
	current, err := statestore.MigrationOrdinal(r.store)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, step := range r.registry.Steps() {
		if step.Ordinal <= current {
			r.log.Debug().Int("ordinal", step.Ordinal).Str("name", step.Name).
				Msg("migration already applied, skipping")
			continue
		}

		r.log.Info().Int("ordinal", step.Ordinal).Str("name", step.Name).Msg("running migration")
		if err := step.Run(ctx); err != nil {
			return executed, errorx.Decorate(err, "migration %d (%s) failed", step.Ordinal, step.Name)
		}

		if err := statestore.SetMigrationOrdinal(r.store, step.Ordinal); err != nil {
			return executed, errorx.Decorate(err, "migration %d (%s) succeeded but the ordinal could not be persisted", step.Ordinal, step.Name)
		}
		executed++
	}
	return executed, nil
}

// Pending returns the steps that would run, given the persisted ordinal.
func (r *Runner) Pending() ([]Step, error) {
	current, err := statestore.MigrationOrdinal(r.store)
	if err != nil {
		return nil, err
	}
	var pending []Step
	for _, step := range r.registry.Steps() {
		if step.Ordinal > current {
			pending = append(pending, step)
		}
	}
	return pending, nil
}
