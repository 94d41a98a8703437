package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty         = errors.New("dataset has no samples")
	ErrRaggedRow     = errors.New("row width differs from the first row")
	ErrTooFewColumns = errors.New("rows need at least one feature and a label column")
	ErrInvalidLabel  = errors.New("label must be 0 or 1")
)

// Dataset holds scaled feature rows and their binary labels.
type Dataset struct {
	Features *mat.Dense
	Labels   []float64
}

func New(features *mat.Dense, labels []float64) (Dataset, error) {
	if features == nil || len(labels) == 0 {
		return Dataset{}, ErrEmpty
	}
	r, _ := features.Dims()
	if r != len(labels) {
		return Dataset{}, fmt.Errorf("feature rows %d do not match %d labels", r, len(labels))
	}
	for i, y := range labels {
		if y != 0 && y != 1 {
			return Dataset{}, fmt.Errorf("%w: row %d has %v", ErrInvalidLabel, i, y)
		}
	}

	return Dataset{Features: features, Labels: labels}, nil
}

func (d Dataset) Len() int {
	return len(d.Labels)
}

func (d Dataset) NumFeatures() int {
	if d.Features == nil {
		return 0
	}
	_, c := d.Features.Dims()

	return c
}

// Rows gathers the selected samples into a new matrix.
func (d Dataset) Rows(idx []int) (*mat.Dense, []float64) {
	x := mat.NewDense(len(idx), d.NumFeatures(), nil)
	y := make([]float64, len(idx))
	for i, k := range idx {
		x.SetRow(i, d.Features.RawRowView(k))
		y[i] = d.Labels[k]
	}

	return x, y
}

// Load reads a CSV file of numeric columns with the label in the last
// column. A non-numeric first row is treated as a header.
func Load(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return Read(f)
}

func Read(r io.Reader) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true
	// Row widths are checked against the first data row, not the header.
	reader.FieldsPerRecord = -1

	var (
		data   []float64
		labels []float64
		width  int
		line   int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("failed to read dataset: %w", err)
		}
		line++

		values, err := parseRecord(record)
		if err != nil {
			if line == 1 {
				continue
			}

			return Dataset{}, fmt.Errorf("line %d: %w", line, err)
		}

		if width == 0 {
			if len(values) < 2 {
				return Dataset{}, ErrTooFewColumns
			}
			width = len(values)
		}
		if len(values) != width {
			return Dataset{}, fmt.Errorf("line %d: %w", line, ErrRaggedRow)
		}

		label := values[width-1]
		if label != 0 && label != 1 {
			return Dataset{}, fmt.Errorf("line %d: %w", line, ErrInvalidLabel)
		}
		data = append(data, values[:width-1]...)
		labels = append(labels, label)
	}

	if len(labels) == 0 {
		return Dataset{}, ErrEmpty
	}

	return Dataset{
		Features: mat.NewDense(len(labels), width-1, data),
		Labels:   labels,
	}, nil
}

func parseRecord(record []string) ([]float64, error) {
	values := make([]float64, len(record))
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		values[i] = v
	}

	return values, nil
}
