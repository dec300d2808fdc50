// Package persian holds the Persian-locale text utilities shared by the
// form, table and view layers: digit conversion, field validators, a
// dictionary-order comparator and display formatters.
package persian

import (
	"strings"
	"unicode/utf8"
)

const (
	persianZero = '۰'
	persianNine = '۹'
)

// ToEnglishDigits replaces every Persian numeral with its ASCII digit. All
// other runes are copied unchanged.
func ToEnglishDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= persianZero && r <= persianNine {
			return '0' + (r - persianZero)
		}
		return r
	}, s)
}

// ToPersianDigits replaces every ASCII digit with its Persian numeral.
func ToPersianDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return persianZero + (r - '0')
		}
		return r
	}, s)
}

func isDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= persianZero && r <= persianNine)
}

// ContainsNumbers reports whether s holds any ASCII or Persian digit.
func ContainsNumbers(s string) bool {
	return strings.IndexFunc(s, isDigit) >= 0
}

// IsNumericString reports whether the trimmed s is a decimal number written
// with either digit set: an optional leading minus, digits, and at most one
// decimal point.
func IsNumericString(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case isDigit(r):
			digits++
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

// runeLen counts characters rather than bytes.
func runeLen(s string) int { return utf8.RuneCountInString(s) }
