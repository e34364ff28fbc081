package domain

import (
	"strings"
	"unicode/utf16"
)

// QueryLength returns the length of the trimmed query in UTF-16 code units,
// so a character outside the Basic Multilingual Plane counts as two.
func QueryLength(query string) int {
	n := 0
	for _, r := range strings.TrimSpace(query) {
		if utf16.IsSurrogate(r) || r < 0x10000 {
			n++
		} else {
			n += 2
		}
	}
	return n
}
