package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoData matches a NoDataError with errors.Is.
var ErrNoData = errors.New("no data")

// NoDataError reports an empty partition where data is mandatory.
type NoDataError struct {
	Prefix string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no cleaned records found under %s", e.Prefix)
}

// Is lets errors.Is(err, ErrNoData) match.
func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}

// MissingFieldError reports a record lacking a required field.
type MissingFieldError struct {
	Key   string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Key, e.Field)
}

// InvalidRecordError reports a record that is present but unusable.
type InvalidRecordError struct {
	Key    string
	Reason string
	Err    error
}

func (e *InvalidRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *InvalidRecordError) Unwrap() error {
	return e.Err
}

// IsRecordError reports whether err is a per-record validation failure
// (as opposed to a storage or context error).
func IsRecordError(err error) bool {
	var missing *MissingFieldError
	var invalid *InvalidRecordError
	return errors.As(err, &missing) || errors.As(err, &invalid)
}
