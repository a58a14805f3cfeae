package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/zenyx/fleet/pkg/types"
)

// Identity is the gateway-resolved identity of a bot credential
type Identity struct {
	ID          string
	Username    string
	DisplayName string
}

// Client opens long-lived connections to the messaging gateway
type Client interface {
	// Open validates the credential and returns a live connection.
	// Invalid or revoked credentials fail with CredentialError; network
	// problems fail with TransientError. The ctx bounds only the open
	// and validation phase, not the connection's lifetime.
	Open(ctx context.Context, token string) (Conn, error)
}

// Conn is one live bot connection
type Conn interface {
	// Identity returns the identity resolved during Open
	Identity() Identity
	// Receive returns the inbound message stream in gateway delivery
	// order. The channel closes when the connection ends; Err reports
	// the transport error that ended it, nil on clean close.
	Receive() <-chan types.InboundMessage
	// Err reports the error that terminated the receive stream
	Err() error
	// Send delivers a payload to one recipient chat
	Send(ctx context.Context, recipient string, payload types.Payload) error
	// Close tears the connection down. Idempotent.
	Close() error
}

// CredentialError indicates an invalid or revoked credential. It is
// terminal for a start attempt and is never auto-retried.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("invalid credential: %s", e.Reason)
}

// TransientError indicates a network or timeout failure that the
// supervisor's backoff policy may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient gateway error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// SendError indicates a per-recipient delivery failure (blocked sender,
// deactivated recipient). Broadcast jobs count these and move on.
type SendError struct {
	Recipient string
	Code      int
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed (code %d): %v", e.Recipient, e.Code, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is a CredentialError
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsTransientError reports whether err is a TransientError
func IsTransientError(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
