package device

import "errors"

// Domain errors for the device package. Callers classify failures with
// errors.Is; the HTTP layer maps each to a status code.
var (
	// ErrUnreachable means the TV could not be reached or the connection
	// broke mid-call.
	ErrUnreachable = errors.New("device: unreachable")

	// ErrProtocolMismatch means the art API version could not be detected.
	// It is always returned together with ErrUnreachable.
	ErrProtocolMismatch = errors.New("device: protocol version unknown")

	// ErrNotFound means the TV does not recognise the content id.
	ErrNotFound = errors.New("device: content not found")

	// ErrRejected means the TV refused a request that names no content id.
	ErrRejected = errors.New("device: request rejected")

	// ErrConfigurationRejected means the selected TV did not connect, so
	// the selection was not committed.
	ErrConfigurationRejected = errors.New("device: configuration rejected")

	// ErrNotConfigured means no TV has been selected yet.
	ErrNotConfigured = errors.New("device: no device configured")

	// ErrInvalidAddress means the address is neither an IP nor a hostname.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrClosed is returned for calls on a retired Connection.
	ErrClosed = errors.New("device: connection closed")

	// ErrEmptyUpload is returned when an upload carries no image bytes.
	ErrEmptyUpload = errors.New("device: empty upload")
)
