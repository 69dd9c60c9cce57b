// Package validation provides input validation helpers for the escrowd API.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// currencyRegex validates ISO 4217-style currency codes.
var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// FieldError represents a validation error on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is a collection of validation errors.
type FieldErrors []FieldError

// Error joins the messages into a single string.
func (e FieldErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// Check is a single field validation.
type Check func() *FieldError

// Validate runs the checks and collects failures.
func Validate(checks ...Check) FieldErrors {
	var errs FieldErrors
	for _, check := range checks {
		if fe := check(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// RequireID fails when an identifier field is empty.
func RequireID(field, value string) Check {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// PositiveCents fails when an amount is not strictly positive.
func PositiveCents(field string, cents int64) Check {
	return func() *FieldError {
		if cents <= 0 {
			return &FieldError{Field: field, Message: "must be a positive amount in cents"}
		}
		return nil
	}
}

// ValidCurrency fails when the value is not a three-letter currency code.
func ValidCurrency(field, value string) Check {
	return func() *FieldError {
		if !currencyRegex.MatchString(value) {
			return &FieldError{Field: field, Message: "must be a three-letter currency code"}
		}
		return nil
	}
}

// RateInRange fails when a rate is outside [0, 1). Zero means "use the
// platform default" and is allowed.
func RateInRange(field string, rate float64) Check {
	return func() *FieldError {
		if rate < 0 || rate >= 1 {
			return &FieldError{Field: field, Message: "must be in [0, 1)"}
		}
		return nil
	}
}
