package fl

import "errors"

var (
	ErrEmptyAggregationInput  = errors.New("empty aggregation input")
	ErrShapeMismatch          = errors.New("shape mismatch")
	ErrInvalidWeight          = errors.New("invalid aggregation weight")
	ErrParameterShapeMismatch = errors.New("parameter shape mismatch")
	ErrInvalidEpochs          = errors.New("epochs must be positive")
	ErrInvalidBatchSize       = errors.New("batch size must be positive")
	ErrUnsupportedVersion     = errors.New("unsupported parameter encoding version")
	ErrMalformedParameters    = errors.New("malformed parameter encoding")
)
