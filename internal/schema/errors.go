package schema

import "fmt"

// LoadError reports a missing or malformed catalog row. A missing entity is a
// load error, never a silent empty configuration.
type LoadError struct {
	Entity string
	Tenant string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load entity %q", e.Entity)
	if e.Tenant != "" {
		msg += fmt.Sprintf(" (tenant %s)", e.Tenant)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }
