package log

import (
	"context"
	"errors"
	"net"

	"wellbooks/internal/core"
)

// ErrorTypeOf sorts err into one of the ErrorType categories.
func ErrorTypeOf(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, core.ErrAlreadyExists), errors.Is(err, core.ErrConflict):
		return ErrorTypeConflict
	case core.IsValidation(err),
		errors.Is(err, core.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidYears):
		return ErrorTypeValidation
	case errors.As(err, &netErr):
		return ErrorTypeNetwork
	default:
		return ErrorTypeInternal
	}
}
