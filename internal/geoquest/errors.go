package geoquest

import "errors"

var (
	// ErrPermissionDenied is returned when location or camera access is refused.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoFix is returned when no position has been reported yet.
	ErrNoFix = errors.New("no location fix")
	// ErrUnauthenticated is returned when no valid token is available after
	// the single re-authentication retry.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNetwork wraps request and connection failures.
	ErrNetwork = errors.New("network failure")
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("rejected")
	// ErrMalformedPayload marks unparseable QR text or realtime frames.
	ErrMalformedPayload = errors.New("malformed payload")
)

// RejectedError is a domain-normal refusal from the backend.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "rejected"
	}
	return "rejected: " + e.Message
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Rejected returns a RejectedError carrying msg.
func Rejected(msg string) error {
	return &RejectedError{Message: msg}
}
