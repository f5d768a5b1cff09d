package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"clinic-scheduling/pkg/database"

	"go.uber.org/multierr"
)

// Kind tells the caller what to do about an error: fix the input, accept the
// conflict, or resubmit.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrecondition
	KindRetryable
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindRetryable:
		return "retryable"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the error type returned by services. Two errors with the same Code
// match under errors.Is, so sentinels still match after detail is added.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

// Detail returns a copy of e with a more specific message.
func (e *Error) Detail(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

var (
	ErrSlotAlreadyBooked = &Error{Kind: KindPrecondition, Code: "SLOT_ALREADY_BOOKED", Message: "slot is already booked"}
	ErrSlotExpired       = &Error{Kind: KindPrecondition, Code: "SLOT_EXPIRED", Message: "slot start time has passed"}
	ErrSlotNotAvailable  = &Error{Kind: KindPrecondition, Code: "SLOT_NOT_AVAILABLE", Message: "slot is not available"}
	ErrSlotNotBooked     = &Error{Kind: KindPrecondition, Code: "SLOT_NOT_BOOKED", Message: "slot is not booked"}
	ErrProviderMismatch  = &Error{Kind: KindPrecondition, Code: "PROVIDER_MISMATCH", Message: "slot belongs to another provider"}

	ErrInvalidStatusTransition = &Error{Kind: KindPrecondition, Code: "INVALID_STATUS_TRANSITION", Message: "availability is not in the expected status"}
	ErrBookedSlotsUncovered    = &Error{Kind: KindPrecondition, Code: "BOOKED_SLOTS_UNCOVERED", Message: "change would leave booked slots outside every occurrence"}
	ErrActiveBookings          = &Error{Kind: KindPrecondition, Code: "ACTIVE_BOOKINGS", Message: "availability has active bookings"}
	ErrBookingNotActive        = &Error{Kind: KindPrecondition, Code: "BOOKING_NOT_ACTIVE", Message: "booking is cancelled"}

	ErrInvariant = &Error{Kind: KindInternal, Code: "INVARIANT_VIOLATION", Message: "internal consistency check failed"}

	ErrValidation = &Error{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: "validation failed"}
	ErrNotFound   = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "not found"}
	ErrRetryable  = &Error{Kind: KindRetryable, Code: "TRY_AGAIN", Message: "transaction timed out or conflicted, resubmit the request"}
)

// KindOf classifies any error returned from this package. Unclassified
// timeouts and conflicts from the database are retryable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if database.IsRetryable(err) {
		return KindRetryable
	}
	return KindInternal
}

func validationError(fields map[string]string) *Error {
	e := ErrValidation.Detail("validation failed: %s", formatFields(fields))
	e.Fields = fields
	return e
}

func invalidField(field, message string) *Error {
	return validationError(map[string]string{field: message})
}

func notFound(what, id string) *Error {
	return ErrNotFound.Detail("%s %s not found", what, id)
}

func retryable(err error) error {
	if !database.IsRetryable(err) {
		return err
	}
	e := *ErrRetryable
	e.Err = err
	return &e
}

func formatFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for field, msg := range fields {
		parts = append(parts, field+": "+msg)
	}
	// map order is random
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// BatchDeleteFailure is one id of a batch delete that could not be removed.
type BatchDeleteFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// BatchDeleteError aggregates the failures of a batch delete. The ids not
// listed were deleted.
type BatchDeleteError struct {
	Failures []BatchDeleteFailure
	Total    int
	errs     error
}

func (e *BatchDeleteError) add(id string, err error) {
	e.Failures = append(e.Failures, BatchDeleteFailure{ID: id, Err: err})
	e.errs = multierr.Append(e.errs, fmt.Errorf("%s: %w", id, err))
}

func (e *BatchDeleteError) Error() string {
	return fmt.Sprintf("%d of %d deletions failed: %v", len(e.Failures), e.Total, e.errs)
}

func (e *BatchDeleteError) Unwrap() []error { return multierr.Errors(e.errs) }

// Reasons maps each failed id to its error message.
func (e *BatchDeleteError) Reasons() map[string]string {
	out := make(map[string]string, len(e.Failures))
	for _, f := range e.Failures {
		out[f.ID] = f.Err.Error()
	}
	return out
}
