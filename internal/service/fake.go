// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// Fake is an in-memory Manager for tests in this module and its consumers.
type Fake struct {
	mu      sync.Mutex
	Running map[string]bool
	Enabled map[string]bool
	Started []string
	Stopped []string
	Err     error
}

// NewFake returns an empty Fake with no running or enabled services.
func NewFake() *Fake {
	return &Fake{
		Running: map[string]bool{},
		Enabled: map[string]bool{},
	}
}

func (f *Fake) Status(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[name], f.Err
}

func (f *Fake) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Running[name] = true
	f.Started = append(f.Started, name)
	return nil
}

func (f *Fake) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Running[name] = false
	f.Stopped = append(f.Stopped, name)
	return nil
}

func (f *Fake) Restart(ctx context.Context, name string) error {
	if err := f.Stop(ctx, name); err != nil {
		return err
	}
	return f.Start(ctx, name)
}

func (f *Fake) IsEnabled(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Enabled[name], f.Err
}
