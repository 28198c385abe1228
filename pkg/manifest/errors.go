// SPDX-License-Identifier: MPL-2.0

package manifest

// Error is a manifest-level validation error: duplicate names, colliding or
// nested destinations, malformed declarations. It is always reported before
// any repository mutation happens.
type Error struct {
	// Package is the declaration the error concerns (may be empty for
	// manifest-wide problems).
	Package string

	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Package == "" {
		return "manifest error: " + e.Reason
	}
	return "manifest error: package " + e.Package + ": " + e.Reason
}
