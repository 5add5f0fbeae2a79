package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

/**
 * Error taxonomy for the docscan worker
 *
 * Every failure that crosses a package boundary is a *ScanError carrying a
 * stable ErrorCode. Callers branch on the code (HasCode / CodeOf) rather than
 * on message text, and surface UserMessage() to people.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Image pipeline errors
	ErrorTranscodeFailed     ErrorCode = "TRANSCODE_FAILED"
	ErrorInvalidCropGeometry ErrorCode = "INVALID_CROP_GEOMETRY"

	// OCR errors
	ErrorOCRTimeout          ErrorCode = "OCR_TIMEOUT"
	ErrorOCRNetwork          ErrorCode = "OCR_NETWORK_ERROR"
	ErrorOCRExtractionFailed ErrorCode = "OCR_EXTRACTION_FAILED"

	// Job errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed    ErrorCode = "STORAGE_FAILED"
	ErrorNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"
)

// ScanError represents a structured pipeline error
type ScanError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Is matches another *ScanError by code, so sentinel comparisons work with errors.Is.
func (e *ScanError) Is(target error) bool {
	t, ok := target.(*ScanError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithJob returns the error tagged with a job ID.
func (e *ScanError) WithJob(jobID string) *ScanError {
	e.JobID = jobID
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrTranscode           = &ScanError{Code: ErrorTranscodeFailed}
	ErrInvalidCropGeometry = &ScanError{Code: ErrorInvalidCropGeometry}
	ErrOCRTimeout          = &ScanError{Code: ErrorOCRTimeout}
	ErrOCRNetwork          = &ScanError{Code: ErrorOCRNetwork}
	ErrOCRExtractionFailed = &ScanError{Code: ErrorOCRExtractionFailed}
	ErrNotAuthenticated    = &ScanError{Code: ErrorNotAuthenticated}
)

// Factory functions for common errors

func NewTranscodeError(source string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorTranscodeFailed,
		Message:   fmt.Sprintf("Failed to process image: %s", source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewInvalidCropGeometryError(x, y, width, height float64) *ScanError {
	return &ScanError{
		Code:      ErrorInvalidCropGeometry,
		Message:   fmt.Sprintf("Crop rectangle out of bounds: x=%.3f y=%.3f w=%.3f h=%.3f", x, y, width, height),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"x":      x,
			"y":      y,
			"width":  width,
			"height": height,
		},
	}
}

func NewOCRTimeoutError(provider string, timeout time.Duration, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorOCRTimeout,
		Message:   fmt.Sprintf("OCR provider %s timed out after %v", provider, timeout),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"provider":         provider,
			"timeout_duration": timeout.String(),
		},
		Cause: cause,
	}
}

func NewOCRNetworkError(provider string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorOCRNetwork,
		Message:   fmt.Sprintf("OCR provider %s unreachable", provider),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"provider": provider,
		},
		Cause: cause,
	}
}

// NewOCRExhaustedError builds the error returned once every provider has failed.
// code selects the surfaced class (timeout, network or extraction failure).
func NewOCRExhaustedError(code ErrorCode, attempts []string, cause error) *ScanError {
	return &ScanError{
		Code:      code,
		Message:   fmt.Sprintf("All OCR providers failed: %s", strings.Join(attempts, ", ")),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store scan results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNotAuthenticatedError(operation string) *ScanError {
	return &ScanError{
		Code:      ErrorNotAuthenticated,
		Message:   fmt.Sprintf("%s requires a signed-in user", operation),
		Timestamp: time.Now(),
	}
}

// CodeOf returns the code of the first *ScanError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *ScanError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err's chain holds a *ScanError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether a caller-invoked retry of the full OCR chain makes sense.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorOCRTimeout, ErrorOCRNetwork, ErrorOCRExtractionFailed, ErrorProcessingTimeout:
		return true
	}
	return false
}

// UserMessage maps an error to the text shown to a person.
func UserMessage(err error) string {
	switch CodeOf(err) {
	case ErrorOCRTimeout:
		return "Text extraction timed out. Please try again."
	case ErrorOCRNetwork:
		return "Network error. Please check your connection and try again."
	case ErrorOCRExtractionFailed:
		return "Failed to extract text from image. Please try again or check your internet connection."
	case ErrorTranscodeFailed, ErrorInvalidCropGeometry:
		return "Failed to process image"
	case ErrorNotAuthenticated:
		return "Sign in to save your scans"
	case ErrorStorageFailed:
		return "Failed to save scan"
	}
	return "Something went wrong. Please try again."
}

// ToMap converts error to map for database storage
func (e *ScanError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
