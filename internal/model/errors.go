package model

import (
	"errors"
	"fmt"
	"strings"
)

// Business conflicts.
var (
	ErrInvalidStatus      = errors.New("invalid status")
	ErrDuplicatePending   = errors.New("duplicate pending request")
	ErrAlreadyDecided     = errors.New("request already decided")
	ErrPreconditionsUnmet = errors.New("preconditions unmet")
)

// Permission, lookup and input errors.
var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrLegacyEndpointGone = errors.New("legacy endpoint gone")
)

// Code is the wire identifier of an error class.
type Code string

const (
	CodeInvalidStatus      Code = "INVALID_STATUS"
	CodeDuplicatePending   Code = "DUPLICATE_PENDING"
	CodeAlreadyDecided     Code = "ALREADY_DECIDED"
	CodePreconditionsUnmet Code = "PRECONDITIONS_UNMET"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeLegacyEndpointGone Code = "LEGACY_ENDPOINT_GONE"
	CodeInternal           Code = "INTERNAL"
)

var codeTable = []struct {
	err  error
	code Code
}{
	{ErrInvalidStatus, CodeInvalidStatus},
	{ErrDuplicatePending, CodeDuplicatePending},
	{ErrAlreadyDecided, CodeAlreadyDecided},
	{ErrPreconditionsUnmet, CodePreconditionsUnmet},
	{ErrPermissionDenied, CodePermissionDenied},
	{ErrNotFound, CodeNotFound},
	{ErrValidation, CodeValidation},
	{ErrLegacyEndpointGone, CodeLegacyEndpointGone},
}

// CodeOf classifies err into a wire code. Unknown errors are INTERNAL.
func CodeOf(err error) Code {
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// ValidationError captures a single field-specific validation issue.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates multiple validation problems.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Is lets callers match any ValidationErrors against ErrValidation.
func (errs ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a field problem.
func (errs *ValidationErrors) Add(field, format string, args ...any) {
	*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no problems were recorded.
func (errs ValidationErrors) Err() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Invalid builds a single-field validation error.
func Invalid(field, format string, args ...any) error {
	return ValidationErrors{{Field: field, Message: fmt.Sprintf(format, args...)}}
}
