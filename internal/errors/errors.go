package errors

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeListenerStop  = "E100"
	CodeResourceClose = "E200"
	CodeDeadline      = "E300"
	CodeCrash         = "E400"
	CodeConfig        = "E500"
)

// AppError is a classified failure raised while starting or stopping the process.
type AppError struct {
	Code     string
	Message  string
	Severity Severity
	// Resource names the failing resource, if any.
	Resource string
	cause    error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewListenerStopError reports that the listener could not confirm it stopped accepting work.
func NewListenerStopError(cause error) *AppError {
	return &AppError{
		Code:     CodeListenerStop,
		Message:  fmt.Sprintf("listener stop failed: %s", causeText(cause)),
		Severity: SeverityCritical,
		cause:    cause,
	}
}

// NewResourceCloseError reports a failed close of the named resource.
func NewResourceCloseError(resource string, cause error) *AppError {
	return &AppError{
		Code:     CodeResourceClose,
		Message:  fmt.Sprintf("close %s: %s", resource, causeText(cause)),
		Severity: SeverityHigh,
		Resource: resource,
		cause:    cause,
	}
}

// NewDeadlineError reports a shutdown session that outlived its deadline.
func NewDeadlineError(deadline time.Duration, pending string) *AppError {
	msg := fmt.Sprintf("shutdown deadline of %s exceeded", deadline)
	if pending != "" {
		msg = fmt.Sprintf("%s while closing %s", msg, pending)
	}

	return &AppError{
		Code:     CodeDeadline,
		Message:  msg,
		Severity: SeverityCritical,
		Resource: pending,
	}
}

// NewCrashError wraps a panic value or an unhandled background error.
func NewCrashError(reason string, fault any) *AppError {
	cause, ok := fault.(error)
	if !ok && fault != nil {
		cause = fmt.Errorf("%v", fault)
	}

	return &AppError{
		Code:     CodeCrash,
		Message:  fmt.Sprintf("%s: %s", reason, causeText(cause)),
		Severity: SeverityCritical,
		cause:    cause,
	}
}

func NewConfigError(cause error) *AppError {
	return &AppError{
		Code:     CodeConfig,
		Message:  fmt.Sprintf("invalid configuration: %s", causeText(cause)),
		Severity: SeverityLow,
		cause:    cause,
	}
}

func causeText(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}
