// Package collector defines the collaborator interfaces the decision core
// consumes — evidence providers, signal providers, action executors,
// identity revalidation — plus a procfs-backed signals provider. Process
// enumeration and deep /proc parsing live outside the core behind these
// interfaces.
package collector

import (
	"time"

	"github.com/ptops/ptriage/model"
)

// EvidenceProvider returns the current evidence for a process identity.
type EvidenceProvider interface {
	Evidence(identity model.ProcessIdentity) (model.Evidence, error)
	// Probe runs a named probe and returns refreshed evidence.
	Probe(identity model.ProcessIdentity, probe string) (model.Evidence, error)
}

// ActionExecutor delivers a remediating action to a live process. The
// executor revalidates identity before every irreversible action.
type ActionExecutor interface {
	Execute(identity model.ProcessIdentity, action model.Action) error
}

// IdentityRevalidator re-reads a process's identity tuple. A process is
// only re-actionable when the full tuple still matches.
type IdentityRevalidator interface {
	Revalidate(identity model.ProcessIdentity) (model.ProcessIdentity, error)
}

// SignalsProvider samples host-level signals for the daemon and the
// memory-pressure monitor.
type SignalsProvider interface {
	Signals() (model.HostSignals, error)
}

// Clock supplies time to the decision core so tests and replay stay
// deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
