package driver

import (
	"errors"
	"fmt"
)

// Sentinel errors for the five driver-level failure kinds named by the
// spec. Typed errors below wrap one of these via Unwrap so callers can
// use errors.Is without caring about the concrete type.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrUnreachable = errors.New("device unreachable")
	ErrCommand     = errors.New("command rejected by device")
	ErrTimeout     = errors.New("operation timed out")
	ErrSession     = errors.New("session error")
)

// AuthError means the device rejected the supplied credential.
// Retriable at the Executor's credential level (try the next
// credential); never retriable once every credential is exhausted.
type AuthError struct {
	Device string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for %s: %v", e.Device, e.Err)
}
func (e *AuthError) Unwrap() error { return ErrAuth }

// UnreachableError means the TCP dial to the device never completed.
// A transient-network kind: retriable at both the Executor (next
// credential) and Dispatcher (next attempt) levels.
type UnreachableError struct {
	Device string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("unreachable %s: %v", e.Device, e.Err)
}
func (e *UnreachableError) Unwrap() error { return ErrUnreachable }

// CommandError means the device rejected a command. Never retriable,
// not even with the same credential: a command rejection means the
// command itself is wrong for that device, and a different credential
// will not change that.
type CommandError struct {
	Device  string
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q rejected by %s: %v", e.Command, e.Device, e.Err)
}
func (e *CommandError) Unwrap() error { return ErrCommand }

// TimeoutError covers both connect and per-command timeouts. Transient
// network kind: retriable like UnreachableError.
type TimeoutError struct {
	Device string
	Stage  string // "connect" or a command string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout (%s) on %s: %v", e.Stage, e.Device, e.Err)
}
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// SessionError covers negotiation/transport failures that aren't one of
// the above — e.g. a legacy KEX/MAC mismatch when legacy algorithms
// aren't allowed. Non-retriable unless the caller's config enables
// legacy KEX and retries with that config.
type SessionError struct {
	Device string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error with %s: %v", e.Device, e.Err)
}
func (e *SessionError) Unwrap() error { return ErrSession }

// Retriable reports whether err is a transient-network failure:
// unreachable or timeout. Auth errors are retriable only at the
// credential level, which the executor checks separately (see
// pkg/executor); Dispatcher-level retry only consults Retriable.
func Retriable(err error) bool {
	var unreachable *UnreachableError
	var timeout *TimeoutError
	return errors.As(err, &unreachable) || errors.As(err, &timeout)
}

// RetriableByCredential reports whether the executor should try the
// next credential after this failure: any transient network/timeout
// class, plus auth errors, since the credential itself was rejected and
// moving to the next one is the point.
func RetriableByCredential(err error) bool {
	var auth *AuthError
	var unreachable *UnreachableError
	var timeout *TimeoutError
	return errors.As(err, &auth) || errors.As(err, &unreachable) || errors.As(err, &timeout)
}
