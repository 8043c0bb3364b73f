// Package validation checks inbound command structs and reports failures as
// domain input errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/fundscore/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates s and converts the first failure into a domain error:
// required fields become MissingField, anything else InvalidField.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.InvalidField("", err.Error())
	}
	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return domain.MissingField(fe.Field())
	}
	return domain.InvalidField(fe.Field(), fmt.Sprint(fe.Value()))
}
