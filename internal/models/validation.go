package models

import (
	"errors"
	"strings"
)

// FieldError is one rejected field of a record.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	cause   error
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationErrors collects field problems in the order they were found.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Add records err against field. Sentinel errors stay matchable with
// errors.Is on the aggregate.
func (v *ValidationErrors) Add(field string, err error) {
	if err != nil {
		v.Errors = append(v.Errors, FieldError{Field: field, Message: err.Error(), cause: err})
	}
}

// AddMessage records a plain message against field.
func (v *ValidationErrors) AddMessage(field, message string) {
	if message != "" {
		v.Errors = append(v.Errors, FieldError{Field: field, Message: message})
	}
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v.Errors))
	for i, f := range v.Errors {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

func (v *ValidationErrors) Is(target error) bool {
	if v == nil {
		return false
	}
	for _, f := range v.Errors {
		if f.cause != nil && errors.Is(f.cause, target) {
			return true
		}
	}
	return false
}

// FieldErrors returns the per-field problems carried by err, or nil when err
// is not a validation failure.
func FieldErrors(err error) []FieldError {
	var v *ValidationErrors
	if errors.As(err, &v) {
		return v.Errors
	}
	return nil
}
