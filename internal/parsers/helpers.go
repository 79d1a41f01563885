package parsers

import (
	"strconv"
	"strings"
)

// BaseName extracts the final path component from a Windows or POSIX path,
// picking the separator style actually present in the string.
func BaseName(path string) string {
	if path == "" {
		return ""
	}
	sep := "/"
	if strings.Contains(path, "\\") {
		sep = "\\"
	}
	idx := strings.LastIndex(path, sep)
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// ParseIntField parses a decimal or 0x-prefixed hexadecimal integer field,
// returning (0, false) for empty or malformed input. Windows event logs mix
// both representations for PID-like fields depending on provider.
func ParseIntField(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FirstNonEmpty returns the first non-empty string among candidates.
func FirstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
