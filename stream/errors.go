package stream

import "errors"

// Terminal errors: once one of these reaches the handler, the client has
// given up and will not retry on its own. Callers distinguish them from
// transient conditions with errors.Is / errors.As.
var (
	// ErrNoCredential means no bearer token was available, or the token is
	// already expired, so a connection attempt was not even made.
	ErrNoCredential = errors.New("no usable credential")

	// ErrReconnectExhausted means the maximum number of reconnection
	// attempts was reached. User action (e.g. a page refresh) is required.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ErrNotConnected is returned by Send when the transport is not open.
// The message is dropped, never buffered; recovery of unsaved answers is
// the state synchronizer's job after the next reconnect.
var ErrNotConnected = errors.New("stream not open")

// ServerError is an application-level error event sent by the server over
// an otherwise healthy connection (e.g. "session already completed").
// The connection stays open unless the server itself closes it.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}
