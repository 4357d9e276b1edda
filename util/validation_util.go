package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationErrorToMessage converts a validator.ValidationErrors to a string
func ValidationErrorToMessage(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err.Error()
	}
	fields := []string{}
	tags := []string{}
	params := []string{}
	for _, e := range vErrs {
		fields = append(fields, e.Namespace())
		tags = append(tags, e.ActualTag())
		params = append(params, e.Param())
	}
	msg := fmt.Sprintf("error in field %s, tag %s, parameter %s", strings.Join(fields, ", "), strings.Join(tags, ", "), strings.Join(params, ", "))
	return msg
}

// ValidationErrorList returns one message per failed field
func ValidationErrorList(err error) []string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return []string{err.Error()}
	}
	out := []string{}
	for _, e := range vErrs {
		out = append(out, fmt.Sprintf("%s failed on %s", e.Namespace(), e.ActualTag()))
	}
	return out
}
