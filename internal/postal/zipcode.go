package postal

import (
	"strings"

	"golang.org/x/text/width"
)

// digits narrows full-width digits and drops everything that is not 0-9.
func digits(s string) string {
	s = width.Narrow.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatZipcode groups raw input as NNN-NNNN. Input with three digits or
// fewer is returned as the bare digits; anything past seven digits is cut.
func FormatZipcode(value string) string {
	clean := digits(value)
	if len(clean) <= 3 {
		return clean
	}
	end := len(clean)
	if end > 7 {
		end = 7
	}
	return clean[:3] + "-" + clean[3:end]
}

// IsValidZipcode reports whether value holds exactly seven digits once
// separators are removed.
func IsValidZipcode(value string) bool {
	return len(digits(value)) == 7
}

// FormatFullAddress joins prefecture, city and town into one line.
func FormatFullAddress(a Address) string {
	return a.Prefecture + a.City + a.Town
}
