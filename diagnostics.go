package mdf

import "fmt"

// DiagnosticScope locates a non-fatal problem.
type DiagnosticScope int

// Diagnostic scopes.
const (
	// ScopeStructure covers block-graph problems: cycles, bad tags,
	// truncated subtrees.
	ScopeStructure DiagnosticScope = iota

	// ScopeDataGroup covers decode failures dropping one data group.
	ScopeDataGroup

	// ScopeChannel covers per-channel conversion failures.
	ScopeChannel
)

func (s DiagnosticScope) String() string {
	switch s {
	case ScopeStructure:
		return "structure"
	case ScopeDataGroup:
		return "data group"
	case ScopeChannel:
		return "channel"
	}
	return "unknown"
}

// Diagnostic is one non-fatal problem encountered while reading. The
// wrapped cause supports errors.Is against the exported sentinel errors.
type Diagnostic struct {
	Scope   DiagnosticScope
	Subject string
	Err     error
}

// Message renders the diagnostic for display.
func (d Diagnostic) Message() string {
	if d.Subject == "" {
		return fmt.Sprintf("%s: %v", d.Scope, d.Err)
	}
	return fmt.Sprintf("%s %s: %v", d.Scope, d.Subject, d.Err)
}

// Unwrap exposes the cause.
func (d Diagnostic) Unwrap() error { return d.Err }
