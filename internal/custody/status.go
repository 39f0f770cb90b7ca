// Package custody holds the pure custody domain: asset statuses, transition
// kinds, and the policy deciding what a tap does to an asset.
package custody

import "strings"

// Status describes the custody lifecycle label of an asset.
type Status string

const (
	StatusUnspecified Status = ""
	StatusAvailable   Status = "available"
	StatusHeld        Status = "held"
	StatusInRepair    Status = "in_repair"
	StatusMissing     Status = "missing"
)

// NormalizeStatus canonicalizes status labels read from external input.
func NormalizeStatus(value string) (Status, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StatusUnspecified, false
	}
	switch strings.ToUpper(trimmed) {
	case "AVAILABLE":
		return StatusAvailable, true
	case "HELD", "CHECKED_OUT", "CHECKED OUT":
		return StatusHeld, true
	case "IN_REPAIR", "IN REPAIR":
		return StatusInRepair, true
	case "MISSING":
		return StatusMissing, true
	default:
		return StatusUnspecified, false
	}
}

// IsKnown reports whether the status belongs to the closed set.
func (s Status) IsKnown() bool {
	switch s {
	case StatusAvailable, StatusHeld, StatusInRepair, StatusMissing:
		return true
	default:
		return false
	}
}

// AllowsTap reports whether a tap-driven transition may act on the status.
// InRepair and Missing are reachable only through administrative paths and
// must never be left or entered by a tap.
func (s Status) AllowsTap() bool {
	return s == StatusAvailable || s == StatusHeld
}

// Kind classifies a custody transition.
type Kind string

const (
	// KindAcquire moves an asset from the shared pool to a holder.
	KindAcquire Kind = "acquire"
	// KindRelease returns an asset from a holder to the shared pool.
	KindRelease Kind = "release"
)
