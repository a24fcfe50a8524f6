// Package validation provides RFC 7807 Problem Details and field-level
// validation errors for the data-store's HTTP-facing surface.
// Internal plumbing errors use pkg/shared/errors instead.
package validation

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const problemBaseURL = "https://spendmonitor.io/errors"

// ValidationError reports one or more field-level failures against a
// named resource.
type ValidationError struct {
	Resource    string
	Message     string
	FieldErrors map[string]string
}

// NewValidationError creates an empty ValidationError for resource.
func NewValidationError(resource, message string) *ValidationError {
	return &ValidationError{
		Resource:    resource,
		Message:     message,
		FieldErrors: make(map[string]string),
	}
}

// AddFieldError records or overwrites the failure reason for field.
func (e *ValidationError) AddFieldError(field, reason string) {
	e.FieldErrors[field] = reason
}

func (e *ValidationError) Error() string {
	if len(e.FieldErrors) == 0 {
		return fmt.Sprintf("validation failed for %s: %s", e.Resource, e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s (fields: %v)", e.Resource, e.Message, e.FieldErrors)
}

// ToRFC7807 converts the validation error to a Problem Details response.
func (e *ValidationError) ToRFC7807() *RFC7807Problem {
	return NewValidationErrorProblem(e.Resource, e.FieldErrors)
}

// RFC7807Problem is a machine-readable error response per RFC 7807.
type RFC7807Problem struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Status     int                    `json:"status"`
	Detail     string                 `json:"detail,omitempty"`
	Instance   string                 `json:"instance,omitempty"`
	Extensions map[string]interface{} `json:"-"`
}

func (p *RFC7807Problem) Error() string {
	return fmt.Sprintf("%s (%d): %s", p.Title, p.Status, p.Detail)
}

// MarshalJSON flattens Extensions alongside the standard RFC 7807 fields.
func (p *RFC7807Problem) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

// NewValidationErrorProblem builds a 400 problem for a resource with
// the given field errors.
func NewValidationErrorProblem(resource string, fieldErrors map[string]string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/validation-error",
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   fmt.Sprintf("validation failed for %s", resource),
		Instance: "/" + resource,
		Extensions: map[string]interface{}{
			"resource":     resource,
			"field_errors": fieldErrors,
		},
	}
}

// NewNotFoundProblem builds a 404 problem for a resource instance.
func NewNotFoundProblem(resource, id string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/not-found",
		Title:    "Resource Not Found",
		Status:   http.StatusNotFound,
		Detail:   fmt.Sprintf("%s with id %s was not found", resource, id),
		Instance: fmt.Sprintf("/%s/%s", resource, id),
		Extensions: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalErrorProblem builds a 500 problem, marked retryable.
func NewInternalErrorProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:   problemBaseURL + "/internal-error",
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: detail,
		Extensions: map[string]interface{}{
			"retry": true,
		},
	}
}

// NewServiceUnavailableProblem builds a 503 problem, marked retryable.
func NewServiceUnavailableProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:   problemBaseURL + "/service-unavailable",
		Title:  "Service Unavailable",
		Status: http.StatusServiceUnavailable,
		Detail: detail,
		Extensions: map[string]interface{}{
			"retry": true,
		},
	}
}

// NewConflictProblem builds a 409 problem for a unique-constraint
// violation on field/value against resource.
func NewConflictProblem(resource, field, value string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/conflict",
		Title:    "Resource Conflict",
		Status:   http.StatusConflict,
		Detail:   fmt.Sprintf("%s already exists with %s=%s", resource, field, value),
		Instance: "/" + resource,
		Extensions: map[string]interface{}{
			"resource": resource,
			"field":    field,
			"value":    value,
		},
	}
}
