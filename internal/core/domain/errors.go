package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTraceNotFound    = errors.New("trace not found")
	ErrStepNotFound     = errors.New("step not found")
	ErrTestNotFound     = errors.New("test not found")
	ErrInvalidEventType = errors.New("invalid event type")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrInvalidTimeRange = errors.New("start time must not be after end time")
)

// ErrExportViolation is returned when an export document does not conform to
// the export JSON schema.
type ErrExportViolation struct {
	Errors []string
}

func (e *ErrExportViolation) Error() string {
	return fmt.Sprintf("export validation failed: %s", strings.Join(e.Errors, "; "))
}
