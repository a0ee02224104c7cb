package errors

import (
	"fmt"
)

var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrEmptyDataset     = fmt.Errorf("empty dataset")
	ErrSchemaMismatch   = fmt.Errorf("feature schema mismatch")
	ErrModelNotTrained  = fmt.Errorf("model not trained")
	ErrModelUnavailable = fmt.Errorf("model unavailable")
)
