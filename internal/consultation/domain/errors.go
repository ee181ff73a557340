package domain

import "errors"

// RejectionError is a business rule refusal reported to the caller as-is.
type RejectionError struct {
	Code string
}

func (e *RejectionError) Error() string { return e.Code }

func reject(code string) *RejectionError {
	return &RejectionError{Code: code}
}

var (
	ErrInvalidCandidate             = reject("invalid_candidate")
	ErrNotConfirmed                 = reject("consultation_not_confirmed")
	ErrNonPositiveConsultationReqID = reject("non_positive_consultation_req_id")
	ErrConsultationReqNotFound      = reject("consultation_req_not_found")
	ErrCounterpartUnavailable       = reject("counterpart_unavailable")
	ErrConsultantTimeConflict       = reject("consultant_time_conflict")
	ErrUserTimeConflict             = reject("user_time_conflict")
	ErrMeetingOverlapsMaintenance   = reject("meeting_overlaps_maintenance")
	ErrRewardCapExceeded            = reject("reward_cap_exceeded")
	ErrFeeMismatch                  = reject("fee_mismatch")
	ErrDuplicateCandidates          = reject("duplicate_candidates")
	ErrCandidateOutOfRange          = reject("candidate_out_of_range")
	ErrConsultantNotFound           = reject("consultant_not_found")
	ErrSameAccount                  = reject("same_account")
)

var ErrUnexpected = errors.New("unexpected_error")

// UnexpectedError hides an internal cause behind unexpected_error. The cause
// is kept for logging only.
type UnexpectedError struct {
	cause error
}

func Unexpected(cause error) error {
	return &UnexpectedError{cause: cause}
}

func (e *UnexpectedError) Error() string { return ErrUnexpected.Error() }

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }

func (e *UnexpectedError) Cause() error { return e.cause }

// Code extracts the rejection code of err. Anything that is not a rejection
// is unexpected_error.
func Code(err error) string {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Code
	}
	return ErrUnexpected.Error()
}
