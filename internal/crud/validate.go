package crud

import (
	"strings"

	"github.com/pitabwire/dastyar/internal/persian"
	"github.com/pitabwire/dastyar/model"
)

// MsgInvalid is shown when a submission is blocked by field errors.
const MsgInvalid = "لطفاً اطلاعات وارد شده را بررسی کنید"

// RequiredMessage is the error of an empty required field.
func RequiredMessage(label string) string {
	return label + " الزامی است"
}

// ValidateField checks one value of field f. The first failing check wins:
// required, then the field's own validator, then entityRule, the validator
// the entity configures for the field key. Empty optional values pass. It
// returns "" when the value is acceptable.
func ValidateField(f model.FieldConfig, entityRule, value string) string {
	if strings.TrimSpace(value) == "" {
		if f.Required {
			return RequiredMessage(f.Label)
		}
		return ""
	}
	for _, name := range []string{f.Validation, entityRule} {
		if name == "" {
			continue
		}
		v, ok := persian.Lookup(name)
		if !ok {
			continue
		}
		if err := v(value); err != nil {
			return err.Error()
		}
	}
	return ""
}

// validate checks the fields selected by include against values and returns
// the errors by field name.
func validate(def model.EntityDefinition, fields []model.FieldConfig, values model.FormData, include func(name string) bool) map[string]string {
	errs := make(map[string]string)
	for _, f := range fields {
		name := f.Name()
		if !include(name) {
			continue
		}
		if msg := ValidateField(f, def.Validation[f.Key], values[name]); msg != "" {
			errs[name] = msg
		}
	}
	return errs
}
