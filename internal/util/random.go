// Package util provides utility functions for the CareDesk application.
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
// Not suitable for secrets.
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

// GenerateEdgeID generates a semantic edge ID with "edge_" prefix.
func GenerateEdgeID() string {
	return GenerateRandomID("edge_", 24)
}

// GenerateResultID generates an AI result ID with "ai_" prefix.
func GenerateResultID() string {
	return GenerateRandomID("ai_", 24)
}
