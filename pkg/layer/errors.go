package layer

import (
	"errors"
	"fmt"
)

const (
	ErrorCodeInvalidCode         = "layer.invalid_code"
	ErrorCodeNoRuntimes          = "layer.no_runtimes"
	ErrorCodeTooManyRuntimes     = "layer.too_many_runtimes"
	ErrorCodeInvalidArchitecture = "layer.invalid_architecture"
	ErrorCodeInvalidName         = "layer.invalid_name"
	ErrorCodeTooLong             = "layer.too_long"
	ErrorCodeInvalidRemoval      = "layer.invalid_removal_policy"
	ErrorCodeInvalidPrincipal    = "layer.invalid_principal"
	ErrorCodeOrganizationAccount = "layer.organization_requires_wildcard"
	ErrorCodeDuplicateID         = "layer.duplicate_id"
	ErrorCodeInvalidArn          = "layer.invalid_arn"
	ErrorCodeInvalidRuntime      = "layer.invalid_runtime"
)

// ValidationError reports a layer declaration that cannot be rendered.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

func newValidationError(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode returns the validation code carried by err, or "" when err is not
// a ValidationError.
func ErrorCode(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}
