// Package util provides utility functions for the ConectaBot application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; not suitable for cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateTicketID generates a unique local ticket ID with "TKT-" prefix.
func GenerateTicketID() string {
	return GenerateRandomID("TKT-", 12)
}

// GenerateTaskID generates a unique scheduled-task ID with "task_" prefix.
func GenerateTaskID() string {
	return GenerateRandomID("task_", 16)
}
