package health

import (
	"fmt"
	"time"

	"github.com/onnwee/dbup/internal/dberr"
)

// Status is the outcome of a single health check.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the outcome of one check. ErrorCode and ErrorMessage are set
// if and only if Status is StatusFailure; ErrorMessage is always sanitized.
type Result struct {
	Timestamp      time.Time  `json:"timestamp"`
	Status         Status     `json:"status"`
	ResponseTimeMS float64    `json:"response_time_ms"`
	ErrorCode      dberr.Code `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

func newSuccess(at time.Time, elapsed time.Duration) Result {
	return Result{
		Timestamp:      at.UTC(),
		Status:         StatusSuccess,
		ResponseTimeMS: millis(elapsed),
	}
}

func newFailure(at time.Time, elapsed time.Duration, code dberr.Code, message string) Result {
	return Result{
		Timestamp:      at.UTC(),
		Status:         StatusFailure,
		ResponseTimeMS: millis(elapsed),
		ErrorCode:      code,
		ErrorMessage:   message,
	}
}

func millis(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// IsSuccess reports whether the check passed.
func (r Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Duration returns the response time as a time.Duration.
func (r Result) Duration() time.Duration {
	return time.Duration(r.ResponseTimeMS * float64(time.Millisecond))
}

func (r Result) String() string {
	if r.IsSuccess() {
		return fmt.Sprintf("Health check passed - Response time: %.0fms", r.ResponseTimeMS)
	}
	return fmt.Sprintf("Health check failed - %s: %s", r.ErrorCode, r.ErrorMessage)
}

// Err returns nil for a passing check and a *CheckError otherwise, so a
// check can be driven by the retry engine like any fallible operation.
func (r Result) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &CheckError{Code: r.ErrorCode, Message: r.ErrorMessage}
}

// CheckError describes a failed check. Message is already sanitized.
type CheckError struct {
	Code    dberr.Code
	Message string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MessageInterrupted is reported when a check is cancelled before it starts.
const MessageInterrupted = "health check interrupted before it started"

// Interrupted returns the failure reported for a cycle cancelled before any
// check ran.
func Interrupted(at time.Time) Result {
	return newFailure(at, 0, dberr.CodeUnknown, MessageInterrupted)
}
