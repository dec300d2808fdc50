package persian

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Empty is displayed for values that are missing or blank.
const Empty = "-"

const currencyUnit = "ریال"

var printer = message.NewPrinter(language.Persian)

// FormatNumber renders n with fa-IR digit grouping and Persian numerals.
func FormatNumber(n float64) string {
	return ToPersianDigits(printer.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(2))))
}

// FormatCurrency renders an amount in rials, e.g. "۱٬۵۰۰٬۰۰۰ ریال".
func FormatCurrency(amount float64) string {
	return FormatNumber(amount) + " " + currencyUnit
}

// FormatDate renders t as a Jalali date, e.g. "۱۴۰۳/۱/۱".
func FormatDate(t time.Time) string {
	jy, jm, jd := ToJalali(t)
	return ToPersianDigits(fmt.Sprintf("%d/%d/%d", jy, jm, jd))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseDate accepts the timestamp shapes the store and the browser send.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToJalali converts the calendar date of t to the Solar Hijri calendar.
func ToJalali(t time.Time) (year, month, day int) {
	gy, gm, gd := t.Date()
	return gregorianToJalali(gy, int(gm), gd)
}

var gregorianMonthOffsets = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

func gregorianToJalali(gy, gm, gd int) (jy, jm, jd int) {
	gy2 := gy
	if gm > 2 {
		gy2 = gy + 1
	}
	days := 355666 + 365*gy + (gy2+3)/4 - (gy2+99)/100 + (gy2+399)/400 + gd + gregorianMonthOffsets[gm-1]
	jy = -1595 + 33*(days/12053)
	days %= 12053
	jy += 4 * (days / 1461)
	days %= 1461
	if days > 365 {
		jy += (days - 1) / 365
		days = (days - 1) % 365
	}
	if days < 186 {
		return jy, 1 + days/31, 1 + days%31
	}
	return jy, 7 + (days-186)/30, 1 + (days-186)%30
}

// Truncate shortens s to max characters and appends "..." when it was cut.
// A non-positive max leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 || runeLen(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// ToFloat extracts a number from the value shapes the store returns.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	case string:
		return ParseNumber(n)
	case fmt.Stringer:
		return ParseNumber(n.String())
	}
	return 0, false
}

// Text renders v as display text: Empty for nil or blank, digits converted
// to Persian.
func Text(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return Empty
	case string:
		s = x
	case time.Time:
		return FormatDate(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if strings.TrimSpace(s) == "" {
		return Empty
	}
	return ToPersianDigits(s)
}

// Number renders v grouped, or falls back to Text when v is not numeric.
func Number(v any) string {
	if n, ok := ToFloat(v); ok {
		return FormatNumber(n)
	}
	return Text(v)
}

// Money renders v as a rial amount, or falls back to Text.
func Money(v any) string {
	if n, ok := ToFloat(v); ok {
		return FormatCurrency(n)
	}
	return Text(v)
}

// Date renders v as a Jalali date, or falls back to Text.
func Date(v any) string {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return Empty
		}
		return FormatDate(x)
	case string:
		if t, ok := ParseDate(x); ok {
			return FormatDate(t)
		}
	}
	return Text(v)
}
