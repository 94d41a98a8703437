package dataset_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/absmach/fedids/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	cases := []struct {
		desc     string
		input    string
		samples  int
		features int
		err      error
	}{
		{
			desc:     "with header",
			input:    "duration,bytes,label\n0.1,0.2,0\n0.3,0.4,1\n",
			samples:  2,
			features: 2,
		},
		{
			desc:     "without header",
			input:    "0.1,0.2,0.5,1\n",
			samples:  1,
			features: 3,
		},
		{
			desc:     "header narrower than rows",
			input:    "features,label\n0.1,0.2,0\n0.3,0.4,1\n",
			samples:  2,
			features: 2,
		},
		{
			desc:  "ragged rows",
			input: "1,2,0\n1,1\n",
			err:   dataset.ErrRaggedRow,
		},
		{
			desc:  "wider row after header",
			input: "a,b,label\n1,2,0\n1,2,3,1\n",
			err:   dataset.ErrRaggedRow,
		},
		{
			desc:  "label outside the binary set",
			input: "1,2,3\n",
			err:   dataset.ErrInvalidLabel,
		},
		{
			desc:  "label only",
			input: "1\n",
			err:   dataset.ErrTooFewColumns,
		},
		{
			desc:  "header only",
			input: "a,b,label\n",
			err:   dataset.ErrEmpty,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ds, err := dataset.Read(strings.NewReader(tc.input))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.samples, ds.Len())
			assert.Equal(t, tc.features, ds.NumFeatures())
		})
	}
}

func TestLoadAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,0\n3,4,1\n5,6,1\n"), 0o644))

	ds, err := dataset.Load(path)
	require.NoError(t, err)

	x, y := ds.Rows([]int{2, 0})
	assert.Equal(t, []float64{5, 6}, x.RawRowView(0))
	assert.Equal(t, []float64{1, 2}, x.RawRowView(1))
	assert.Equal(t, []float64{1, 0}, y)
}
