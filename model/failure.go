package model

import "fmt"

// FailureCategory classifies why an action attempt failed. The recovery
// planner maps (action, category) pairs to alternative branches.
type FailureCategory int

const (
	FailurePermissionDenied FailureCategory = iota
	FailureProcessNotFound
	FailureProcessProtected
	FailureTimeout
	FailureSupervisorConflict
	FailureResourceConflict
	FailureIdentityMismatch
	FailurePreCheckBlocked
	FailureUnexpectedError
)

// FailureCategories lists all categories in canonical order.
var FailureCategories = []FailureCategory{
	FailurePermissionDenied, FailureProcessNotFound, FailureProcessProtected,
	FailureTimeout, FailureSupervisorConflict, FailureResourceConflict,
	FailureIdentityMismatch, FailurePreCheckBlocked, FailureUnexpectedError,
}

func (f FailureCategory) String() string {
	switch f {
	case FailurePermissionDenied:
		return "permission_denied"
	case FailureProcessNotFound:
		return "process_not_found"
	case FailureProcessProtected:
		return "process_protected"
	case FailureTimeout:
		return "timeout"
	case FailureSupervisorConflict:
		return "supervisor_conflict"
	case FailureResourceConflict:
		return "resource_conflict"
	case FailureIdentityMismatch:
		return "identity_mismatch"
	case FailurePreCheckBlocked:
		return "pre_check_blocked"
	case FailureUnexpectedError:
		return "unexpected_error"
	}
	return fmt.Sprintf("failure(%d)", int(f))
}

// Permanent reports whether the failure can never be retried against the
// same incarnation: the process is gone, protected, or the identity no
// longer matches.
func (f FailureCategory) Permanent() bool {
	switch f {
	case FailurePermissionDenied, FailureIdentityMismatch,
		FailureProcessNotFound, FailureProcessProtected:
		return true
	}
	return false
}
