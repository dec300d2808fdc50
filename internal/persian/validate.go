package persian

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/dastyar/model"
)

// Arabic-script blocks plus the zero-width non-joiner that Persian writes
// inside compound words.
const (
	scriptClass = `\x{0600}-\x{06FF}\x{0750}-\x{077F}\x{08A0}-\x{08FF}\x{FB50}-\x{FDFF}\x{FE70}-\x{FEFF}\x{200C}`
	spaceClass  = `\s\x{00A0}`
)

var (
	textPattern   = regexp.MustCompile(`^[` + scriptClass + spaceClass + `0-9]+$`)
	namePattern   = regexp.MustCompile(`^[` + scriptClass + spaceClass + `]+$`)
	phonePattern  = regexp.MustCompile(`^(\+98|0)?9[0-9]{9}$`)
	tenDigitsExpr = regexp.MustCompile(`^[0-9]{10}$`)
)

// Violation is a failed validation. Its message is shown to the operator
// as-is.
type Violation struct {
	Message string
}

func (v *Violation) Error() string { return v.Message }

func violation(msg string) error { return &Violation{Message: msg} }

// Validator checks one raw field value. It returns nil when the value is
// acceptable and a *Violation otherwise.
type Validator func(value string) error

// PersianText requires non-empty Persian text. Digits of both sets are
// allowed.
func PersianText(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return violation("این فیلد الزامی است")
	}
	if !textPattern.MatchString(v) {
		return violation("لطفاً متن را به فارسی وارد کنید")
	}
	return nil
}

// PersianName requires a Persian name of at least two characters.
func PersianName(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return violation("نام الزامی است")
	}
	if runeLen(v) < 2 {
		return violation("نام باید حداقل ۲ کاراکتر باشد")
	}
	if !namePattern.MatchString(v) {
		return violation("لطفاً نام را به فارسی وارد کنید")
	}
	return nil
}

// PersianPhone accepts Iranian mobile numbers such as 09123456789 or
// +989123456789, in either digit set.
func PersianPhone(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return violation("شماره تلفن الزامی است")
	}
	if !phonePattern.MatchString(ToEnglishDigits(v)) {
		return violation("شماره تلفن معتبر نیست (مثال: ۰۹۱۲۳۴۵۶۷۸۹)")
	}
	return nil
}

// PersianSSN validates an Iranian national code, including its check digit.
func PersianSSN(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return violation("کد ملی الزامی است")
	}
	v = ToEnglishDigits(v)
	if !tenDigitsExpr.MatchString(v) {
		return violation("کد ملی باید ۱۰ رقم باشد")
	}
	if !nationalCodeChecksum(v) {
		return violation("کد ملی معتبر نیست")
	}
	return nil
}

// nationalCodeChecksum expects exactly ten ASCII digits.
func nationalCodeChecksum(code string) bool {
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(code[i]-'0') * (10 - i)
	}
	r := sum % 11
	want := r
	if r >= 2 {
		want = 11 - r
	}
	return int(code[9]-'0') == want
}

// PersianPostalCode requires exactly ten digits.
func PersianPostalCode(value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return violation("کد پستی الزامی است")
	}
	if !tenDigitsExpr.MatchString(ToEnglishDigits(v)) {
		return violation("کد پستی باید ۱۰ رقم باشد")
	}
	return nil
}

// Currency requires a non-negative amount.
func Currency(value string) error {
	if value == "" {
		return violation("مبلغ الزامی است")
	}
	n, ok := ParseNumber(value)
	if !ok {
		return violation("مبلغ معتبر نیست")
	}
	if n < 0 {
		return violation("مبلغ نمی‌تواند منفی باشد")
	}
	return nil
}

// PositiveNumber requires a number greater than zero.
func PositiveNumber(value string) error {
	if value == "" {
		return violation("این فیلد الزامی است")
	}
	n, ok := ParseNumber(value)
	if !ok {
		return violation("عدد معتبر نیست")
	}
	if n <= 0 {
		return violation("عدد باید مثبت باشد")
	}
	return nil
}

// ParseNumber parses a decimal written with either digit set.
func ParseNumber(value string) (float64, bool) {
	v := ToEnglishDigits(strings.TrimSpace(value))
	if !IsNumericString(v) {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var validators = map[string]Validator{
	"persian_text":        PersianText,
	"persian_name":        PersianName,
	"persian_phone":       PersianPhone,
	"persian_ssn":         PersianSSN,
	"persian_postal_code": PersianPostalCode,
	"currency":            Currency,
	"positive_number":     PositiveNumber,
}

// camel-case names used by older definition files
var validatorAliases = map[string]string{
	"persianText":       "persian_text",
	"persianName":       "persian_name",
	"persianPhone":      "persian_phone",
	"persianSSN":        "persian_ssn",
	"persianPostalCode": "persian_postal_code",
	"positiveNumber":    "positive_number",
}

// Lookup returns the validator registered under name.
func Lookup(name string) (Validator, bool) {
	if canonical, ok := validatorAliases[name]; ok {
		name = canonical
	}
	v, ok := validators[name]
	return v, ok
}

// ValidatorNames lists the canonical validator names in sorted order.
func ValidatorNames() []string {
	names := make([]string, 0, len(validators))
	for n := range validators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NormalizeForm returns a copy of form with every value's Persian digits
// converted to ASCII.
func NormalizeForm(form model.FormData) model.FormData {
	out := make(model.FormData, len(form))
	for k, v := range form {
		out[k] = ToEnglishDigits(v)
	}
	return out
}
