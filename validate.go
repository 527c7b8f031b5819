package main

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// checkStruct validates a request payload and returns a user-facing message
// for the first failing field.
func checkStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err
	}

	e := errs[0]
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Errorf("the field '%s' is required", field)
	case "email":
		return fmt.Errorf("the field '%s' must be a valid email address", field)
	case "min":
		return fmt.Errorf("the field '%s' must be at least %s characters long", field, e.Param())
	case "max":
		return fmt.Errorf("the field '%s' must be no longer than %s characters", field, e.Param())
	default:
		return fmt.Errorf("the field '%s' is invalid", field)
	}
}
