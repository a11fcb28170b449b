package messenger

import "errors"

var (
	// ErrDisconnected is surfaced to every pending call when the connection
	// tears down, and immediately to any call or signal attempted after.
	ErrDisconnected = errors.New("messenger: disconnected")

	// ErrTimeout is surfaced when the caller's deadline expires before the
	// response arrives. Caller-local; the connection stays healthy.
	ErrTimeout = errors.New("messenger: method call timed out")
)

// RemoteError carries the error string the peer answered a method call with.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "messenger: remote error: " + e.Message
}
