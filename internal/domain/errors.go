package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeHlaResolution         = "HLA_RESOLUTION_ERROR"
	ErrCodeInvalidHla            = "INVALID_HLA"
	ErrCodeCombinatorialOverflow = "COMBINATORIAL_OVERFLOW"
	ErrCodeFrequencySetNotFound  = "FREQUENCY_SET_NOT_FOUND"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodePredictionImpossible  = "PREDICTION_IMPOSSIBLE"
	ErrCodeDatabaseError         = "DATABASE_ERROR"
	ErrCodeExternalAPI           = "EXTERNAL_API_ERROR"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeInternalServer        = "INTERNAL_SERVER_ERROR"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrPredictionImpossible marks a calculation where one side has no
	// population support. It is a valid business outcome.
	ErrPredictionImpossible = errors.New("match prediction impossible: zero likelihood mass")
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// InvalidHlaError is returned by a dictionary for a typing it cannot resolve
type InvalidHlaError struct {
	Locus  Locus
	Typing string
	Reason string
}

// Error implements the error interface
func (e *InvalidHlaError) Error() string {
	return fmt.Sprintf("invalid HLA %s*%s: %s", e.Locus, e.Typing, e.Reason)
}

// HlaResolutionError scopes a typing failure to one subject
type HlaResolutionError struct {
	Subject string
	Locus   Locus
	Typing  string
	Err     error
}

// Error implements the error interface
func (e *HlaResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s*%s for %s: %v", e.Locus, e.Typing, e.Subject, e.Err)
}

// Unwrap exposes the dictionary error
func (e *HlaResolutionError) Unwrap() error {
	return e.Err
}

// CombinatorialOverflowError is returned when a subject's candidate genotype
// count exceeds the configured bound. Enumeration is rejected, never truncated.
type CombinatorialOverflowError struct {
	Subject string
	Count   int64
	Limit   int64
	// Saturated is set when the count itself overflowed int64
	Saturated bool
}

// Error implements the error interface
func (e *CombinatorialOverflowError) Error() string {
	if e.Saturated {
		return fmt.Sprintf("typing of %s is too ambiguous: candidate genotype count exceeds int64, limit %d", e.Subject, e.Limit)
	}
	return fmt.Sprintf("typing of %s is too ambiguous: %d candidate genotypes, limit %d", e.Subject, e.Count, e.Limit)
}

// FrequencySetNotFoundError is returned when no active set matches, even after fallback
type FrequencySetNotFoundError struct {
	RegistryCode  string
	EthnicityCode string
}

// Error implements the error interface
func (e *FrequencySetNotFoundError) Error() string {
	return fmt.Sprintf("no active haplotype frequency set for registry %q, ethnicity %q or the global fallback",
		e.RegistryCode, e.EthnicityCode)
}

// Is lets errors.Is match ErrNotFound
func (e *FrequencySetNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ErrorCode maps an error to its API error code
func ErrorCode(err error) string {
	var (
		validationErr *ValidationError
		resolutionErr *HlaResolutionError
		invalidHlaErr *InvalidHlaError
		overflowErr   *CombinatorialOverflowError
		setErr        *FrequencySetNotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		return ErrCodeValidation
	case errors.As(err, &resolutionErr):
		return ErrCodeHlaResolution
	case errors.As(err, &invalidHlaErr):
		return ErrCodeInvalidHla
	case errors.As(err, &overflowErr):
		return ErrCodeCombinatorialOverflow
	case errors.As(err, &setErr):
		return ErrCodeFrequencySetNotFound
	case errors.Is(err, ErrPredictionImpossible):
		return ErrCodePredictionImpossible
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeInternalServer
	}
}
