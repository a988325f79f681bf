package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s, for logging
// prefixes of request ids and tokens. A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	switch {
	case maxLen <= 0:
		return ""
	case len(s) <= maxLen:
		return s
	default:
		return s[:maxLen]
	}
}

// NormalizeURL strips trailing slashes so "https://a.example/" and
// "https://a.example" compare equal.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
