package arena

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate
var uniTrans *ut.UniversalTranslator

// translations maps a validation tag to its english message.
// {0} is the field name and {1} the tag parameter.
var translations = map[string]string{
	"required":      "{0} is a required field",
	"required_with": "{0} is required when {1} is set",
	"hostname":      "{0} must be a valid hostname",
	"port":          "{0} must be a valid port number",
	"min":           "{0} must be at least {1}",
	"gt":            "{0} must be greater than {1}",
	"url":           "{0} must be a valid url",
}

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	en := en.New()
	uniTrans = ut.New(en, en)
	enTrans, _ := uniTrans.GetTranslator("en")

	// config keys are lowercase in config.yaml, report them the same way
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.ToLower(field.Name)
	})

	validate.RegisterValidation("port", func(fl validator.FieldLevel) bool {
		port, ok := fl.Field().Interface().(int)
		if !ok {
			return false
		}
		return port > 0 && port <= 65535
	})

	for tag, text := range translations {
		validate.RegisterTranslation(tag, enTrans, func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field(), strings.ToLower(fe.Param()))
			return t
		})
	}
}
