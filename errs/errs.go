// Package errs defines the error kinds every marketplace operation reports.
// Services wrap these sentinels with operation context; callers match them
// with errors.Is.
package errs

import "errors"

var (
	// ErrNotAuthorized signals the caller lacks the required role or ownership.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound signals a referenced id is absent.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a registration conflict.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidStatus signals the operation is illegal for the current lifecycle state.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInsufficientFunds signals a value transfer failed.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPastDeadline signals a booking attempted at or after the listing deadline.
	ErrPastDeadline = errors.New("past booking deadline")
	// ErrInvalidParameters signals a field outside bounds, an empty string or bad time ordering.
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrFeeExceedsMax signals a proposed platform fee above the ceiling.
	ErrFeeExceedsMax = errors.New("platform fee exceeds maximum")
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrNotAuthorized, "not_authorized"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidStatus, "invalid_status"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrPastDeadline, "past_deadline"},
	{ErrInvalidParameters, "invalid_parameters"},
	{ErrFeeExceedsMax, "fee_exceeds_max"},
}

// Kind returns the stable wire code of the first error kind found in err's
// chain, or "internal" when err carries none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// IsDomain reports whether err carries one of the marketplace error kinds.
func IsDomain(err error) bool {
	k := Kind(err)
	return k != "" && k != "internal"
}
