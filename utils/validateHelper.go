package utils

import (
	"errors"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonTagName)
	})
	return validate
}

// ProcessValidationErrors flattens validator output into field -> failed tag.
func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// FirstValidationError validates obj's `validate` tags and reports the first failing field
// in alphabetical order so the message is stable.
func FirstValidationError(obj any) (field string, tag string, failed bool) {
	err := getValidator().Struct(obj)
	if err == nil {
		return "", "", false
	}
	fields := ProcessValidationErrors(err)
	if len(fields) == 0 {
		return "input", "struct", true
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], fields[names[0]], true
}
