package server

import (
	"regexp"
	"strings"
)

// Syntactic validation happens at this layer so the service can assume
// well-formed inputs.
var (
	keyIDRegex       = regexp.MustCompile(`^[a-f0-9]{16}$`)
	fingerprintRegex = regexp.MustCompile(`^[a-f0-9]{40}$`)
	nonceRegex       = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

func isKeyID(s string) bool {
	return keyIDRegex.MatchString(s)
}

func isFingerprint(s string) bool {
	return fingerprintRegex.MatchString(s)
}

func isNonce(s string) bool {
	return nonceRegex.MatchString(s)
}

// normalizeHex lowercases and strips an optional 0x prefix.
func normalizeHex(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
