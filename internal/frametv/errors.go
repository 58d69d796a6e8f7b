package frametv

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the TV refuses the channel connection,
	// usually because the pairing prompt was declined.
	ErrUnauthorized = errors.New("frametv: connection unauthorized by TV")

	// ErrClosed is returned for calls on a closed Client.
	ErrClosed = errors.New("frametv: client closed")

	// ErrRejected is the sentinel wrapped by RejectedError.
	ErrRejected = errors.New("frametv: request rejected by TV")

	// ErrUnexpectedResponse is returned when a reply is missing required fields.
	ErrUnexpectedResponse = errors.New("frametv: unexpected response")

	// ErrFrameTooLarge guards against corrupt length prefixes on data sockets.
	ErrFrameTooLarge = errors.New("frametv: frame exceeds size limit")
)

// RejectedError carries the error code the TV returned for a request.
// The TV reports unknown content ids this way.
type RejectedError struct {
	Request string
	Code    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("frametv: %s rejected by TV (error_code %s)", e.Request, e.Code)
}

// Is makes errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}
