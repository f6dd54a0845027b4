package auth

import (
	"strings"
	"unicode"
)

// SanitizeName trims a name, drops control characters and collapses runs of
// whitespace to single spaces.
func SanitizeName(name string) string {
	return strings.Join(strings.Fields(removeControlChars(name)), " ")
}

// SplitFullName splits a sanitized full name into a first name and the rest.
// "Ann Marie Lee" yields ("Ann", "Marie Lee").
func SplitFullName(fullName string) (first, last string) {
	first, last, _ = strings.Cut(SanitizeName(fullName), " ")
	return first, last
}

// removeControlChars removes control characters. Tabs and newlines become
// spaces so they still separate words.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
