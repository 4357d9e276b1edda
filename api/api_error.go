package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mailio/go-mailio-datawallet/types"
)

type ApiError struct {
	// Code is the HTTP status code
	Code int `json:"code"`
	// Message is the error message
	Message string `json:"message"`
	// Kind is the pipeline error kind (e.g. AuthorizationExpired)
	Kind string `json:"kind,omitempty"`
}

func ApiErrorf(c *gin.Context, code int, format string, args ...interface{}) ApiError {
	ar := ApiError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	c.AbortWithStatusJSON(code, ar)
	return ar
}

// ApiDomainError maps a service error to its HTTP status
func ApiDomainError(c *gin.Context, err error) ApiError {
	ar := ApiError{
		Code:    errorStatus(err),
		Message: err.Error(),
		Kind:    types.ErrorKind(err),
	}
	if kind := types.AuthorizationFailureKind(err); kind != "" {
		ar.Kind = kind
	}
	if ar.Code == http.StatusInternalServerError {
		ar.Message = "internal error"
	}
	c.AbortWithStatusJSON(ar.Code, ar)
	return ar
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrAuthorizationNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAuthorizationExpired):
		return http.StatusGone
	case errors.Is(err, types.ErrAuthorizationConsumed), errors.Is(err, types.ErrInvalidTransition), errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func ValidatorErrorToUser(err validator.ValidationErrors) string {
	var errorMessages []string
	for _, err := range err {
		switch err.Tag() {
		case "required":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is required", err.Field()))
		case "email":
			errorMessages = append(errorMessages, fmt.Sprintf("%s is not a valid email", err.Field()))
		default:
			errorMessages = append(errorMessages, fmt.Sprintf("validation failed on field %s", err.Field()))
		}
	}
	return strings.Join(errorMessages, ". ")
}

// validationMessage returns a user friendly message for validator errors
func validationMessage(err error) string {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		return ValidatorErrorToUser(vErrs)
	}
	return err.Error()
}
