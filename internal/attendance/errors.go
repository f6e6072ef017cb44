package attendance

import "errors"

// Kind groups business errors for callers that map them to transport codes.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindMalformed    Kind = "malformed"
)

// Error is an expected business outcome. Anything that is not an *Error is an
// infrastructure failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrNoActiveSlot            = &Error{KindNotFound, "NoActiveSlot", "No class is scheduled for this cohort right now."}
	ErrSessionNotFound         = &Error{KindNotFound, "SessionNotFound", "This class session does not exist."}
	ErrNoScheduledSessions     = &Error{KindNotFound, "NoScheduledSessions", "No scheduled classes were found for that cohort and date."}
	ErrInvalidStudent          = &Error{KindNotFound, "InvalidStudent", "This account is not a registered student."}
	ErrSessionNotActive        = &Error{KindInvalidState, "SessionNotActive", "Attendance for this class is closed."}
	ErrNotActive               = &Error{KindInvalidState, "NotActive", "The attendance window is not open."}
	ErrAlreadyFinalized        = &Error{KindInvalidState, "AlreadyFinalized", "Attendance for this class has already been finalized."}
	ErrSessionCancelled        = &Error{KindInvalidState, "SessionCancelled", "This class was cancelled."}
	ErrTokenExpired            = &Error{KindInvalidState, "TokenExpired", "This QR code has expired. Ask your teacher to show a fresh one."}
	ErrAlreadyMarked           = &Error{KindConflict, "AlreadyMarked", "Your attendance is already recorded for this class."}
	ErrSessionAlreadyFinalized = &Error{KindConflict, "SessionAlreadyFinalized", "Attendance for this class was already taken today."}
	ErrTokenSessionMismatch    = &Error{KindUnauthorized, "TokenSessionMismatch", "This QR code does not belong to this class."}
	ErrNotEnrolled             = &Error{KindUnauthorized, "NotEnrolled", "You are not enrolled in this class."}
	ErrMalformedToken          = &Error{KindMalformed, "MalformedToken", "This is not a valid attendance QR code."}
)

// AsError extracts the business error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
