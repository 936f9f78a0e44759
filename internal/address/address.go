// Package address treats advertised peripheral identifiers as opaque keys.
//
// Depending on the host stack an identifier is a MAC address (Linux, Windows)
// or a per-host UUID (macOS). Nothing here parses either form; identifiers are
// only trimmed and case-folded so that the same peripheral always maps to the
// same key.
package address

import "strings"

// Normalize returns the canonical key for a raw identifier.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
