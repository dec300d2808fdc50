package persian

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/dastyar/model"
)

func TestDigitConversion(t *testing.T) {
	assert.Equal(t, "1234567890", ToEnglishDigits("۱۲۳۴۵۶۷۸۹۰"))
	assert.Equal(t, "محمد 123", ToEnglishDigits("محمد ۱۲۳"))
	assert.Equal(t, "123456", ToEnglishDigits("12۳۴56"))
	assert.Equal(t, "", ToEnglishDigits(""))

	assert.Equal(t, "۰۹۱۲۳۴۵۶۷۸۹", ToPersianDigits("09123456789"))
	assert.Equal(t, "test ۱۲۳", ToPersianDigits("test 12۳"))

	for _, s := range []string{"09123456789", "abc 42", "محمد احمدی"} {
		assert.Equal(t, s, ToEnglishDigits(ToPersianDigits(s)))
	}
}

func TestIsNumericString(t *testing.T) {
	tests := map[string]bool{
		"123":    true,
		"۱۲۳":    true,
		"12.5":   true,
		"-۴۲":    true,
		" 7 ":    true,
		"1.2.3":  false,
		"12a":    false,
		"":       false,
		"-":      false,
		"محمد":   false,
		".":      false,
		"۱۰۰۰۰۰": true,
	}
	for in, want := range tests {
		assert.Equal(t, want, IsNumericString(in), "IsNumericString(%q)", in)
	}
}

func TestContainsNumbers(t *testing.T) {
	assert.True(t, ContainsNumbers("محمد ۱۲۳"))
	assert.True(t, ContainsNumbers("abc1"))
	assert.False(t, ContainsNumbers("محمد احمدی"))
}

func message(err error) string {
	var v *Violation
	if errors.As(err, &v) {
		return v.Message
	}
	return ""
}

func TestPersianSSN(t *testing.T) {
	assert.NoError(t, PersianSSN("0499370899"))
	assert.NoError(t, PersianSSN("۰۴۹۹۳۷۰۸۹۹"))
	assert.Equal(t, "کد ملی معتبر نیست", message(PersianSSN("0012345678")))
	assert.Equal(t, "کد ملی باید ۱۰ رقم باشد", message(PersianSSN("12345")))
	assert.Equal(t, "کد ملی الزامی است", message(PersianSSN("  ")))
}

func TestPersianPhone(t *testing.T) {
	assert.NoError(t, PersianPhone("09123456789"))
	assert.NoError(t, PersianPhone("۰۹۱۲۳۴۵۶۷۸۹"))
	assert.NoError(t, PersianPhone("+989123456789"))
	assert.NoError(t, PersianPhone("9123456789"))
	assert.Equal(t, "شماره تلفن معتبر نیست (مثال: ۰۹۱۲۳۴۵۶۷۸۹)", message(PersianPhone("0812345678")))
	assert.Equal(t, "شماره تلفن الزامی است", message(PersianPhone("")))
}

func TestPersianNameAndText(t *testing.T) {
	assert.NoError(t, PersianName("محمد احمدی"))
	assert.NoError(t, PersianName("علی‌رضا"))
	assert.Equal(t, "نام باید حداقل ۲ کاراکتر باشد", message(PersianName("م")))
	assert.Equal(t, "لطفاً نام را به فارسی وارد کنید", message(PersianName("John")))
	assert.Equal(t, "نام الزامی است", message(PersianName("")))

	assert.NoError(t, PersianText("تهران خیابان ۱۲"))
	assert.NoError(t, PersianText("پلاک 4"))
	assert.Equal(t, "لطفاً متن را به فارسی وارد کنید", message(PersianText("Tehran")))
	assert.Equal(t, "این فیلد الزامی است", message(PersianText(" ")))
}

func TestPostalCodeCurrencyPositive(t *testing.T) {
	assert.NoError(t, PersianPostalCode("۱۲۳۴۵۶۷۸۹۰"))
	assert.Equal(t, "کد پستی باید ۱۰ رقم باشد", message(PersianPostalCode("123")))

	assert.NoError(t, Currency("0"))
	assert.NoError(t, Currency("۱۵۰۰۰۰۰"))
	assert.Equal(t, "مبلغ الزامی است", message(Currency("")))
	assert.Equal(t, "مبلغ معتبر نیست", message(Currency("abc")))
	assert.Equal(t, "مبلغ نمی‌تواند منفی باشد", message(Currency("-5")))

	assert.NoError(t, PositiveNumber("3"))
	assert.Equal(t, "عدد باید مثبت باشد", message(PositiveNumber("0")))
	assert.Equal(t, "عدد معتبر نیست", message(PositiveNumber("x")))
}

func TestLookup(t *testing.T) {
	v, ok := Lookup("persian_ssn")
	require.True(t, ok)
	assert.Error(t, v("0012345678"))

	v, ok = Lookup("persianPhone")
	require.True(t, ok)
	assert.NoError(t, v("09123456789"))

	_, ok = Lookup("nope")
	assert.False(t, ok)
	assert.Contains(t, ValidatorNames(), "currency")
}

func TestNormalizeForm(t *testing.T) {
	in := model.FormData{"name": "محمد احمدی", "phone": "۰۹۱۲۳۴۵۶۷۸۹", "mixed": "12۳۴56"}
	out := NormalizeForm(in)

	assert.Equal(t, "محمد احمدی", out["name"])
	assert.Equal(t, "09123456789", out["phone"])
	assert.Equal(t, "123456", out["mixed"])
	assert.Equal(t, "۰۹۱۲۳۴۵۶۷۸۹", in["phone"], "input must not be modified")
}

func TestCompare(t *testing.T) {
	assert.Negative(t, Compare("پ", "ت"))
	assert.Negative(t, Compare("چ", "ح"))
	assert.Negative(t, Compare("ژ", "س"))
	assert.Negative(t, Compare("ک", "گ"))
	assert.Negative(t, Compare("گ", "ل"))
	assert.Positive(t, Compare("ی", "و"))
	assert.Negative(t, Compare("علی", "علیرضا"))
	assert.Zero(t, Compare("مریم", "مریم"))

	names := []string{"یاسمن", "پرویز", "بهرام", "تینا", "ژاله", "زهرا", "کاوه", "گلاره"}
	sort.Slice(names, func(i, j int) bool { return Compare(names[i], names[j]) < 0 })
	assert.Equal(t, []string{"بهرام", "پرویز", "تینا", "زهرا", "ژاله", "کاوه", "گلاره", "یاسمن"}, names)
}

func TestFormatters(t *testing.T) {
	c := FormatCurrency(1500000)
	assert.True(t, strings.HasSuffix(c, " ریال"), c)
	assert.False(t, strings.ContainsAny(c, "0123456789"), c)

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, ToEnglishDigits(c))
	assert.Equal(t, "1500000", digits)

	assert.Equal(t, Empty, Text(nil))
	assert.Equal(t, Empty, Text("  "))
	assert.Equal(t, "۴۲", Text(42))
	assert.Equal(t, "abc", Money("abc"))
}

func TestJalali(t *testing.T) {
	tests := []struct {
		date    time.Time
		y, m, d int
	}{
		{time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC), 1403, 1, 1},
		{time.Date(2023, 3, 21, 0, 0, 0, 0, time.UTC), 1402, 1, 1},
		{time.Date(2024, 3, 19, 0, 0, 0, 0, time.UTC), 1402, 12, 29},
	}
	for _, tt := range tests {
		y, m, d := ToJalali(tt.date)
		assert.Equal(t, []int{tt.y, tt.m, tt.d}, []int{y, m, d}, tt.date.String())
	}
	assert.Equal(t, "۱۴۰۳/۱/۱", Date("2024-03-20"))
	assert.Equal(t, Empty, Date(time.Time{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "سلام", Truncate("سلام", 10))
	assert.Equal(t, "سل...", Truncate("سلام", 2))
	assert.Equal(t, "سلام", Truncate("سلام", 0))
}

func TestBusinessRules(t *testing.T) {
	assert.NoError(t, ValidateClientForOrder(model.Record{"name": "علی", "phone": "0912", "address": "تهران"}))
	assert.Error(t, ValidateClientForOrder(model.Record{"name": "علی", "phone": ""}))

	assert.Error(t, ValidateOrderEditable("invoiced"))
	assert.NoError(t, ValidateOrderEditable("pending"))

	assert.NoError(t, ValidatePreOrderConversion("approved"))
	assert.Error(t, ValidatePreOrderConversion("pending"))

	allowed := map[string][]string{"pending": {"approved", "rejected"}}
	assert.NoError(t, ValidateStatusTransition("pending", "approved", allowed))
	assert.NoError(t, ValidateStatusTransition("approved", "approved", allowed))
	assert.Equal(t, "تغییر وضعیت از approved به pending مجاز نیست",
		message(ValidateStatusTransition("approved", "pending", allowed)))
}
