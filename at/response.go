package at

import (
	"strconv"
	"strings"
)

// WithPrefix returns cmd as it goes on the wire. Vendor code mostly writes
// commands without the "AT" prefix ("+CFUN?", "^SIND?"), which is added here.
func WithPrefix(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) >= len(Prefix) && strings.EqualFold(cmd[:len(Prefix)], Prefix) {
		return cmd
	}
	return Prefix + cmd
}

// StripTag removes a leading response tag such as "+CFUN:" and the
// whitespace after it. The boolean reports whether the tag was present.
func StripTag(response, tag string) (string, bool) {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, tag) {
		return response, false
	}
	return strings.TrimSpace(response[len(tag):]), true
}

// ParseUint parses a bare unsigned integer, tolerating surrounding spaces.
func ParseUint(s string) (uint, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// Lines splits a reply into its non-empty lines.
func Lines(response string) []string {
	var lines []string
	for _, l := range strings.Split(response, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
