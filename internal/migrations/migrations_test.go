// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"

	"github.com/damvcoool/iocage-plugin-nextcloud/internal/statestore"
)

func step(ordinal int, name string, ran *[]int, err error) Step {
	return Step{
		Ordinal: ordinal,
		Name:    name,
		Run: func(context.Context) error {
			*ran = append(*ran, ordinal)
			return err
		},
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	var ran []int
	_, err := NewRegistry(step(1, "a", &ran, nil), step(1, "b", &ran, nil))
	require.Error(t, err)

	_, err = NewRegistry(step(0, "zero", &ran, nil))
	require.Error(t, err)
}

func TestRunFromScratch(t *testing.T) {
	var ran []int
	reg, err := NewRegistry(step(2, "b", &ran, nil), step(1, "a", &ran, nil), step(3, "c", &ran, nil))
	require.NoError(t, err)

	store := statestore.NewMemStore()
	executed, err := NewRunner(reg, store, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, executed)
	require.Equal(t, []int{1, 2, 3}, ran)

	ordinal, err := statestore.MigrationOrdinal(store)
	require.NoError(t, err)
	require.Equal(t, 3, ordinal)
}

func TestRunResumesFromPersistedOrdinal(t *testing.T) {
	var ran []int
	reg, err := NewRegistry(
		step(1, "a", &ran, nil),
		step(2, "b", &ran, nil),
		step(3, "c", &ran, nil),
		step(4, "d", &ran, nil),
	)
	require.NoError(t, err)

	store := statestore.NewMemStore()
	require.NoError(t, statestore.SetMigrationOrdinal(store, 2))

	executed, err := NewRunner(reg, store, nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, executed)
	require.Equal(t, []int{3, 4}, ran)
}

func TestRunFailureHaltsWithoutAdvancing(t *testing.T) {
	var ran []int
	reg, err := NewRegistry(
		step(1, "a", &ran, nil),
		step(2, "boom", &ran, errorx.IllegalState.New("disk full")),
		step(3, "c", &ran, nil),
	)
	require.NoError(t, err)

	store := statestore.NewMemStore()
	runner := NewRunner(reg, store, nil)

	executed, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, executed)
	require.Equal(t, []int{1, 2}, ran)

	// The failed step did not advance the counter and is retried next run.
	ordinal, err := statestore.MigrationOrdinal(store)
	require.NoError(t, err)
	require.Equal(t, 1, ordinal)

	pending, err := runner.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, 2, pending[0].Ordinal)
}

func TestRunIsIdempotent(t *testing.T) {
	var ran []int
	reg, err := NewRegistry(step(1, "a", &ran, nil))
	require.NoError(t, err)

	store := statestore.NewMemStore()
	runner := NewRunner(reg, store, nil)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	executed, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, executed)
	require.Equal(t, []int{1}, ran)
}
