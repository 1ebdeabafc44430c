// Package validation checks submitted forms with go-playground/validator and
// reports failures as English messages keyed by JSON field name.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ErrTranslatorNotFound indicates the English translator is unavailable.
var ErrTranslatorNotFound = errors.New("translator not found")

// FieldErrors maps a JSON field name to a human-readable message.
type FieldErrors map[string]string

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation error"
	}
	b, err := json.Marshal(fe)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

// Validator validates structs tagged with `validate:"..."`.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New builds a Validator with English translations.
// POST: Field names in errors come from the json tag
func New() (*Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Validator{validate: validate, translator: trans}, nil
}

// Validate returns FieldErrors when data fails its tags.
func (v *Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}
