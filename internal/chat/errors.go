package chat

import "errors"

var (
	// ErrPersistence means the store could not durably write a message.
	// Nothing about that message is visible to readers or live sessions.
	ErrPersistence = errors.New("persistence failure")

	ErrUnbound          = errors.New("connection is not bound to a user")
	ErrForbiddenBinding = errors.New("connection may not bind to this user")
	ErrInvalidMessage   = errors.New("invalid message")

	// ErrDeliveryMiss is a failed push to one live handle. It is logged and
	// never returned to a sender.
	ErrDeliveryMiss = errors.New("delivery miss")

	ErrSessionClosed = errors.New("session closed")
)

// errorCode maps an error to the `error` event code sent on the live channel.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnbound):
		return "unbound"
	case errors.Is(err, ErrForbiddenBinding):
		return "forbidden"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_payload"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "internal"
	}
}
