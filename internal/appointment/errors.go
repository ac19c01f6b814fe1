package appointment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/donation-scheduling/internal/eligibility"
)

var (
	ErrDonorNotFound       = errors.New("donor not found")
	ErrCenterNotFound      = errors.New("center not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrCenterBusy          = errors.New("center is currently being booked, please retry")
)

// ValidationError reports malformed input. Callers fix the input; it is
// never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func invalidStatusError(got string) error {
	valid := make([]string, len(ValidStatuses))
	for i, s := range ValidStatuses {
		valid[i] = string(s)
	}
	return validationError("status", fmt.Sprintf("invalid status %q, must be one of: %s", got, strings.Join(valid, ", ")))
}

func invalidDonationTypeError(got DonationType) error {
	valid := make([]string, len(eligibility.ValidTypes))
	for i, t := range eligibility.ValidTypes {
		valid[i] = string(t)
	}
	return validationError("donation_type", fmt.Sprintf("unsupported donation type %q, must be one of: %s", got, strings.Join(valid, ", ")))
}

// NotFoundError wraps one of the ErrXNotFound sentinels with the id that was
// looked up.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// EligibilityViolation is returned when a donor fails a spacing or annual
// cap rule.
type EligibilityViolation struct {
	Result eligibility.Result
}

func (e *EligibilityViolation) Error() string {
	return e.Result.Reason
}

// CapacityConflict is returned when the requested slot is full.
type CapacityConflict struct {
	Occupied int
	Capacity int
}

func (e *CapacityConflict) Error() string {
	return fmt.Sprintf("center is at capacity for this time slot (%d of %d places taken)", e.Occupied, e.Capacity)
}

type InactiveDonorError struct {
	DonorHash string
}

func (e *InactiveDonorError) Error() string {
	return "donor account is not active"
}

// IsExpected reports whether err belongs to the user-facing taxonomy, as
// opposed to an infrastructure failure.
func IsExpected(err error) bool {
	var (
		vErr *ValidationError
		nErr *NotFoundError
		eErr *EligibilityViolation
		cErr *CapacityConflict
		iErr *InactiveDonorError
	)
	return errors.As(err, &vErr) ||
		errors.As(err, &nErr) ||
		errors.As(err, &eErr) ||
		errors.As(err, &cErr) ||
		errors.As(err, &iErr) ||
		errors.Is(err, ErrCenterBusy)
}
