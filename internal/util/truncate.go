package util

import (
	"fmt"
	"os"
	"strings"
)

// DefaultLogMaxLen is the default maximum length for truncated log output (1KB)
// Full content is available via the request log capture
const DefaultLogMaxLen = 1024

// TruncateLog truncates long strings for verbose logging.
// This helps control log file growth while maintaining diagnostics capability.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen. This simplifies common logging patterns.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskSecret hides all but the last few characters of a credential so it can
// appear in diagnostics without being recoverable.
func MaskSecret(s string) string {
	if len(s) < 12 {
		return "***"
	}
	return "..." + s[len(s)-8:]
}

// IsVerbose checks if the POOLGATE_VERBOSE environment variable is set.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	switch strings.ToLower(os.Getenv("POOLGATE_VERBOSE")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
