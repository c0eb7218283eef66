package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrInvalidQuote      = errors.New("invalid quote")
	ErrInvalidConfig     = errors.New("invalid cycle config")
	ErrFieldMissing      = errors.New("field missing")
	ErrUnknownSource     = errors.New("unknown source")
)

// FieldMissingError reports that none of the candidate field paths for a
// normalized attribute were present in an upstream payload.
type FieldMissingError struct {
	Attribute  string
	Candidates []string
}

func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("%s: none of [%s] present", e.Attribute, strings.Join(e.Candidates, ", "))
}

// Unwrap lets callers match with errors.Is(err, ErrFieldMissing).
func (e *FieldMissingError) Unwrap() error { return ErrFieldMissing }
