package apikey

import (
	"net"
	"strings"
)

// MatchPattern reports whether value matches pattern. `*` matches any run of
// characters (including empty); everything else is compared literally and
// case-insensitively. This is deliberately narrower than path.Match: key
// restrictions only ever use `*`, and `?`/character classes appearing in a
// model name must stay literal.
func MatchPattern(pattern, value string) bool {
	pattern = strings.ToLower(pattern)
	value = strings.ToLower(value)

	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	segments := strings.Split(pattern, "*")

	// Anchor the first and last segments, then require the middle segments
	// to appear in order.
	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]

	last := segments[len(segments)-1]
	if !strings.HasSuffix(value, last) {
		return false
	}
	value = value[:len(value)-len(last)]

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(value, seg)
		if idx < 0 {
			return false
		}
		value = value[idx+len(seg):]
	}
	return true
}

// MatchAny reports whether value matches any pattern in the list. An empty or
// absent list allows everything.
func MatchAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return true
		}
	}
	return false
}

// NormalizeIP canonicalizes a client address before whitelist comparison:
// IPv6-mapped IPv4 (::ffff:1.2.3.4) collapses to dotted form and the IPv6
// loopback becomes 127.0.0.1 so one whitelist entry covers both stacks.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if parsed.IsLoopback() {
		return "127.0.0.1"
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}
