package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StartId uniquely identifies a process incarnation. It disambiguates PID
// reuse across reboots and within a boot.
//
// Format: "<boot_id_prefix>-<start_time_ticks>" on Linux or
// "<boot_id_prefix>-<pid>-<start_time>" on Darwin.
type StartId string

// StartIdLinux builds a StartId from a boot-id prefix and start ticks.
func StartIdLinux(bootPrefix string, startTicks uint64) StartId {
	return StartId(fmt.Sprintf("%s-%d", bootPrefix, startTicks))
}

// StartIdDarwin builds a StartId from a boot-id prefix, pid, and start time.
func StartIdDarwin(bootPrefix string, pid uint32, startTime uint64) StartId {
	return StartId(fmt.Sprintf("%s-%d-%d", bootPrefix, pid, startTime))
}

// ParseStartId validates a StartId string. A valid id is non-empty and
// contains at least one hyphen.
func ParseStartId(s string) (StartId, bool) {
	if s == "" || !strings.Contains(s, "-") {
		return "", false
	}
	return StartId(s), true
}

// ProcessIdentity is the (pid, start_id, uid) tuple that makes a process
// safely re-actionable. A PID-only match is never sufficient: the full
// identity must match what a plan captured.
type ProcessIdentity struct {
	PID     uint32  `json:"pid"`
	StartID StartId `json:"start_id"`
	UID     uint32  `json:"uid"`
}

// NewProcessIdentity builds an identity tuple.
func NewProcessIdentity(pid uint32, startID StartId, uid uint32) ProcessIdentity {
	return ProcessIdentity{PID: pid, StartID: startID, UID: uid}
}

// Key returns a stable string key for maps and persisted stores.
func (p ProcessIdentity) Key() string {
	return fmt.Sprintf("%d:%s:%d", p.PID, p.StartID, p.UID)
}

// Matches reports whether the full identity tuple matches.
func (p ProcessIdentity) Matches(o ProcessIdentity) bool {
	return p.PID == o.PID && p.StartID == o.StartID && p.UID == o.UID
}

func (p ProcessIdentity) String() string {
	return fmt.Sprintf("pid=%d start_id=%s uid=%d", p.PID, p.StartID, p.UID)
}

// SessionId identifies a triage session.
//
// Format: "sess-YYYYMMDD-HHMMSS-<6 chars>".
type SessionId string

// NewSessionId generates a fresh session id from the supplied clock time.
func NewSessionId(now time.Time) SessionId {
	random := uuid.NewString()[:6]
	return SessionId(fmt.Sprintf("sess-%s-%s", now.UTC().Format("20060102-150405"), random))
}

// ParseSessionId validates a session id string.
func ParseSessionId(s string) (SessionId, bool) {
	if !strings.HasPrefix(s, "sess-") || len(s) <= 20 {
		return "", false
	}
	return SessionId(s), true
}
