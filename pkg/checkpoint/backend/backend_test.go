package backend_test

import (
	"context"
	"testing"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/checkpoint/backend"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	for _, kind := range []string{backend.FS, backend.Badger} {
		t.Run(kind, func(t *testing.T) {
			store, err := backend.Open(kind, t.TempDir())
			require.NoError(t, err)
			defer store.Close()

			ckpt := checkpoint.Checkpoint{
				Round:      1,
				Parameters: fl.ParameterSet{{Shape: []int{1}, Data: []float64{2}}},
			}
			require.NoError(t, store.Save(context.Background(), ckpt))

			got, err := store.Latest(context.Background())
			require.NoError(t, err)
			assert.Equal(t, uint64(1), got.Round)
		})
	}

	_, err := backend.Open("tape", t.TempDir())
	assert.Error(t, err)
}
