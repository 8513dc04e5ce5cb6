package security

import "fmt"

// PolicyDeniedError reports a capability request exceeding a policy ceiling.
// The validator fails closed: no partial grant is ever issued.
type PolicyDeniedError struct {
	Capability string
	Reason     string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.Capability, e.Reason)
}

// Denied constructs a PolicyDeniedError for the given capability.
func Denied(capability, format string, args ...any) *PolicyDeniedError {
	return &PolicyDeniedError{
		Capability: capability,
		Reason:     fmt.Sprintf(format, args...),
	}
}
