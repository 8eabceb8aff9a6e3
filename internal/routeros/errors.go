package routeros

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionError means the router was unreachable, refused the connection,
// or the socket died mid-operation. Fatal for the current operation; the
// caller decides whether to retry.
type ConnectionError struct {
	Target     string
	Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Target, e.Underlying)
}

func (e *ConnectionError) Unwrap() error {
	return e.Underlying
}

// NewConnectionError creates a new connection error
func NewConnectionError(target string, err error) *ConnectionError {
	return &ConnectionError{Target: target, Underlying: err}
}

// AuthenticationError means the router rejected our credentials. Surfaced
// distinct from ConnectionError so operators fix stored credentials, not
// network config.
type AuthenticationError struct {
	Target     string
	Username   string
	Underlying error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error (%s@%s): %v", e.Username, e.Target, e.Underlying)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Underlying
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(target, username string, err error) *AuthenticationError {
	return &AuthenticationError{Target: target, Username: username, Underlying: err}
}

// ProtocolError means the router sent something we could not parse, or a
// !fatal sentence. The session is dead after one of these.
type ProtocolError struct {
	Target string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s): %s", e.Target, e.Detail)
}

// NewProtocolError creates a new protocol error
func NewProtocolError(target, detail string) *ProtocolError {
	return &ProtocolError{Target: target, Detail: detail}
}

// DeviceError is a !trap the router reported for a single command. The
// session stays usable afterwards.
type DeviceError struct {
	Message  string
	Category string
}

func (e *DeviceError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("router error [%s]: %s", e.Category, e.Message)
	}
	return "router error: " + e.Message
}

// IsConnectionError reports whether err indicates a dead or unreachable
// connection rather than a router-level rejection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "broken pipe") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "connection refused") ||
		strings.Contains(message, "use of closed network connection") ||
		strings.Contains(message, "i/o timeout") ||
		strings.Contains(message, "eof")
}

// IsNotFoundError reports whether a trap means the target row was already
// absent. Removal treats these as success.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "no such item") ||
		strings.Contains(text, "not found") ||
		strings.Contains(text, "invalid internal item")
}

// IsAlreadyExistsError reports whether a trap means the row is already
// present. Idempotent creates treat these as success.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "already have") ||
		strings.Contains(text, "already exists")
}
