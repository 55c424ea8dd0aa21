// Package logging provides utilities for secure logging with data masking.
package logging

import "strings"

// MaskHeader redacts sensitive header values based on header name.
// Returns the redacted value suitable for logging.
//
// Rules:
// - Password/secret headers: "[REDACTED]" (no partial reveal)
// - Admin key / authorization headers: "****" + last4chars (e.g., "****ab3f")
// - Other headers: returned unchanged
func MaskHeader(name, value string) string {
	lowerName := strings.ToLower(name)

	// Password/secret headers - full redaction
	if strings.Contains(lowerName, "password") ||
		strings.Contains(lowerName, "secret") ||
		strings.Contains(lowerName, "private-key") {
		return "[REDACTED]"
	}

	// Admin key headers - show last 4 chars
	if lowerName == "authorization" ||
		lowerName == "accesskey" ||
		lowerName == "x-api-key" {
		return MaskSecret(value)
	}

	// All other headers - return unchanged
	return value
}

// MaskSecret masks a secret value for logging, revealing only the last
// four characters. Used for bot secrets and admin keys.
func MaskSecret(value string) string {
	if len(value) < 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
