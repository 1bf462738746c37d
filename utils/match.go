package utils

import (
	"strconv"
	"strings"
)

// MatchPath reports whether path is covered by pattern using file permission
// conventions:
//   - "<<ALL FILES>>" matches every path.
//   - "dir/*" matches the entries directly inside dir.
//   - "dir/-" matches everything below dir, recursively.
//   - "*" and "-" alone are the relative forms of the above.
//
// Any other pattern must equal path exactly.
func MatchPath(pattern, path string) bool {
	if pattern == "<<ALL FILES>>" {
		return true
	}
	switch {
	case pattern == "*":
		return path != "" && !strings.Contains(path, "/")
	case pattern == "-":
		return path != "" && !strings.HasPrefix(path, "/")
	case strings.HasSuffix(pattern, "/*"):
		dir := pattern[:len(pattern)-1]
		if !strings.HasPrefix(path, dir) {
			return false
		}
		rest := path[len(dir):]
		return rest != "" && !strings.Contains(rest, "/")
	case strings.HasSuffix(pattern, "/-"):
		dir := pattern[:len(pattern)-1]
		return strings.HasPrefix(path, dir) && len(path) > len(dir)
	}
	return pattern == path
}

// PathImplies reports whether a path pattern covers another path pattern.
// A recursive wildcard covers any narrower wildcard below it; a
// direct-children wildcard only covers itself and its direct entries.
func PathImplies(pattern, other string) bool {
	if pattern == "<<ALL FILES>>" {
		return true
	}
	if other == "<<ALL FILES>>" {
		return false
	}
	if pattern == other {
		return true
	}
	switch {
	case strings.HasSuffix(pattern, "/-"):
		dir := pattern[:len(pattern)-1]
		return strings.HasPrefix(other, dir) && len(other) > len(dir)
	case strings.HasSuffix(pattern, "/*"):
		if strings.HasSuffix(other, "/*") || strings.HasSuffix(other, "/-") {
			return false
		}
		return MatchPath(pattern, other)
	}
	return false
}

// MatchHost matches a host name against a pattern that may be "*" or start
// with a "*." wildcard label. Matching is case-insensitive.
func MatchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == "*" || pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		if strings.HasPrefix(host, "*.") {
			// a wildcard is only covered by an equal or broader wildcard
			return strings.HasSuffix(host[1:], pattern[1:])
		}
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Low  int
	High int
}

// FullPortRange covers every port.
var FullPortRange = PortRange{Low: 0, High: 65535}

// Contains reports whether other lies entirely inside r.
func (r PortRange) Contains(other PortRange) bool {
	return other.Low >= r.Low && other.High <= r.High
}

// ParsePortRange parses "80", "1024-", "-1023", "8000-9000" or "*".
// An empty string yields the full range.
func ParsePortRange(s string) (PortRange, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return FullPortRange, true
	}
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		p, err := strconv.Atoi(s)
		if err != nil || p < 0 || p > 65535 {
			return PortRange{}, false
		}
		return PortRange{Low: p, High: p}, true
	}
	r := FullPortRange
	if lo != "" {
		p, err := strconv.Atoi(lo)
		if err != nil || p < 0 {
			return PortRange{}, false
		}
		r.Low = p
	}
	if hi != "" {
		p, err := strconv.Atoi(hi)
		if err != nil || p > 65535 {
			return PortRange{}, false
		}
		r.High = p
	}
	if r.Low > r.High {
		return PortRange{}, false
	}
	return r, true
}
