package updates

import (
	"context"
	"errors"
	"net"
	"os"
)

var (
	ErrUnauthenticated       = errors.New("unauthenticated connection")
	ErrDuplicateRegistration = errors.New("connection already registered")
	ErrSlowConsumer          = errors.New("slow consumer")
	ErrTransport             = errors.New("transport error")
	ErrConnectionClosed      = errors.New("connection closed")
	ErrServiceClosed         = errors.New("update service closed")
	ErrNoScopes              = errors.New("change event has no scopes")
	ErrInvalidScope          = errors.New("invalid scope")
)

// isTimeout reports whether a transport write failed because its deadline
// passed rather than because the peer went away.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
