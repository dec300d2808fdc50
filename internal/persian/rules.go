package persian

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/dastyar/model"
)

// Business rules shared by the entity actions. Each returns nil when the
// rule holds and a *Violation otherwise.

// ValidateClientForOrder requires the client fields an order needs.
func ValidateClientForOrder(client model.Fielder) error {
	for _, key := range []string{"name", "phone", "address"} {
		v, ok := client.Field(key)
		if !ok || v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
			return violation("اطلاعات مشتری ناکامل است. لطفاً ابتدا اطلاعات مشتری را تکمیل کنید")
		}
	}
	return nil
}

// ValidateOrderEditable rejects edits to invoiced orders.
func ValidateOrderEditable(status string) error {
	if status == "invoiced" {
		return violation("سفارش فاکتور شده قابل ویرایش نیست")
	}
	return nil
}

// ValidatePreOrderConversion allows only approved pre-orders to become
// orders.
func ValidatePreOrderConversion(status string) error {
	if status != "approved" {
		return violation("فقط پیش سفارش‌های تایید شده قابل تبدیل به سفارش هستند")
	}
	return nil
}

// ValidateStatusTransition checks from→to against the allowed moves. Keeping
// the current status is always allowed.
func ValidateStatusTransition(from, to string, allowed map[string][]string) error {
	if from == to {
		return nil
	}
	if slices.Contains(allowed[from], to) {
		return nil
	}
	return violation(fmt.Sprintf("تغییر وضعیت از %s به %s مجاز نیست", from, to))
}
