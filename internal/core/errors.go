package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConflict            = errors.New("ledger changed concurrently")
	ErrInvalidRange        = errors.New("date precedes account creation")
	ErrInvalidYears        = errors.New("years must be one of 1, 2, 3, 5")
	ErrPartialBatchFailure = errors.New("partial batch failure")

	ErrValidation         = errors.New("validation failed")
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrEmptyName          = fmt.Errorf("%w: empty name", ErrValidation)
	ErrEmptyAccountID     = fmt.Errorf("%w: empty account id", ErrValidation)
	ErrInvalidAccountType = fmt.Errorf("%w: invalid account type", ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrZeroTimestamp      = fmt.Errorf("%w: timestamp cannot be zero", ErrValidation)
	ErrInvalidDate        = fmt.Errorf("%w: invalid date", ErrValidation)
)

// AccountFailure records why a single account could not be processed in a batch.
type AccountFailure struct {
	AccountID string
	Err       error
}

// PartialBatchError is returned by batch runs where some accounts failed and
// the others completed. It matches ErrPartialBatchFailure.
type PartialBatchError struct {
	Attempted int
	Failures  []AccountFailure
}

func (e *PartialBatchError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.AccountID)
	}
	return fmt.Sprintf("%s: %d of %d accounts failed (%s)",
		ErrPartialBatchFailure, len(e.Failures), e.Attempted, strings.Join(ids, ", "))
}

func (e *PartialBatchError) Is(target error) bool {
	return target == ErrPartialBatchFailure
}

// Unwrap exposes the per-account causes to errors.Is and errors.As.
func (e *PartialBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsValidation reports whether err is an input validation problem.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
