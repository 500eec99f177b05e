package patient

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrValidation      = errors.New("validation failed")
	ErrSearchCriterion = errors.New("firstName or doctorName query parameter is required")
)

// ValidationError reports the fields that broke a record constraint, keyed by
// JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
