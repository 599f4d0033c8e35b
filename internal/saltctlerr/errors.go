// Package saltctlerr defines the error kinds that saltctl raises to its
// caller. Per the control-plane contract, only malformed requests and
// rejected publishes are returned as errors of their own kind (besides the
// context's error when a call is cancelled); everything else (missing
// agents, decode anomalies, expired waits) is reflected in the shape of an
// aggregator's result instead of a panic or an error return.
package saltctlerr

import "fmt"

// InvocationError means the request itself could not be resolved into
// something publishable: an unknown nodegroup, an unsupported target kind,
// a missing required field. The call never reaches the publish step.
type InvocationError struct {
	Reason string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation error: %s", e.Reason)
}

// NewInvocationError builds an InvocationError with a formatted reason.
func NewInvocationError(format string, args ...any) *InvocationError {
	return &InvocationError{Reason: fmt.Sprintf(format, args...)}
}

// AuthError means the master rejected the publish request outright (bad key,
// denied ACL). It is distinct from a PublishFailed/transport outage.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Reason)
}

// NewAuthError builds an AuthError with a formatted reason.
func NewAuthError(format string, args ...any) *AuthError {
	return &AuthError{Reason: fmt.Sprintf(format, args...)}
}

// ErrFunctionNotFound is returned by the function facade when the caller
// asks for a remote function name the target agent never advertised.
type ErrFunctionNotFound struct {
	Name string
}

func (e *ErrFunctionNotFound) Error() string {
	return fmt.Sprintf("function %q not found on target agent", e.Name)
}
