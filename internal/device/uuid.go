package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the Bluetooth SIG base UUID tail (xxxxxxxx-0000-1000-8000-00805f9b34fb)
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes,
// no braces, no 0x prefix). Full 128-bit UUIDs built on the Bluetooth SIG base
// collapse to their 16-bit short form.
func NormalizeUUID(u string) string {
	s := strings.ToLower(strings.TrimSpace(u))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// ExpandUUID returns the canonical dashed 128-bit form of a UUID.
// 16-bit and 32-bit forms are expanded onto the Bluetooth SIG base.
func ExpandUUID(u string) (string, error) {
	s := NormalizeUUID(u)
	switch len(s) {
	case 4:
		s = "0000" + s + sigBaseSuffix
	case 8:
		s = s + sigBaseSuffix
	}

	parsed, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", u, err)
	}
	return parsed.String(), nil
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		if _, err := ExpandUUID(u); err != nil {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, NormalizeUUID(u))
	}
	return result, nil
}
