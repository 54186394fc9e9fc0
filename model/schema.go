package model

import (
	"strconv"
	"strings"
)

// SchemaVersion is the current version for all JSON outputs.
//
// Semver: MAJOR breaks (field removals, type changes), MINOR adds optional
// fields, PATCH fixes.
const SchemaVersion = "1.0.0"

// MinCompatibleVersion is the oldest schema accepted for session resumption.
const MinCompatibleVersion = "1.0.0"

// IsCompatible reports whether a schema version shares the current major.
func IsCompatible(version string) bool {
	return majorOf(version) == majorOf(SchemaVersion)
}

func majorOf(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return n
}
