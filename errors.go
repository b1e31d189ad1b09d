package stepflow

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDuplicateTool      = "DUPLICATE_TOOL"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeToolExecution      = "TOOL_EXECUTION_ERROR"
	ErrCodeArgResolution      = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodePlanParsing        = "PLAN_PARSING_ERROR"
	ErrCodePlanGeneration     = "PLAN_GENERATION_ERROR"
	ErrCodeDependencyDeadlock = "DEPENDENCY_DEADLOCK"
	ErrCodeSynthesis          = "SYNTHESIS_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeCancelled          = "EXECUTION_CANCELLED"
	ErrCodeTimeout            = "EXECUTION_TIMEOUT"
	ErrCodeCache              = "CACHE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Error is the typed error for all stepflow failures.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolNotFound)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// IsCode reports whether err is (or wraps) a stepflow Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewDuplicateToolError(toolName string) *Error {
	return NewError(ErrCodeDuplicateTool, "registration", fmt.Sprintf("tool '%s' is already registered", toolName), nil)
}

func NewToolNotFoundError(stage, toolName string) *Error {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewToolExecutionError(stage, toolName string, cause error) *Error {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewArgResolutionError(stage string, stepID int, argName string, cause error) *Error {
	msg := fmt.Sprintf("failed to resolve argument '%s' for step %d", argName, stepID)
	return NewError(ErrCodeArgResolution, stage, msg, cause)
}

func NewPlanParsingError(message string, cause error) *Error {
	return NewError(ErrCodePlanParsing, "planning", message, cause)
}

func NewPlanGenerationError(cause error) *Error {
	return NewError(ErrCodePlanGeneration, "planning", "failed to generate execution plan", cause)
}

func NewDependencyDeadlockError(stepIDs []int) *Error {
	return NewError(ErrCodeDependencyDeadlock, "execution",
		fmt.Sprintf("no step is ready but %d remain: cyclic or unsatisfiable dependencies %v", len(stepIDs), stepIDs), nil)
}

func NewSynthesisError(cause error) *Error {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize final answer", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewCacheError(stage, operation string, cause error) *Error {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsStepflowError reports whether err is a stepflow typed error.
func IsStepflowError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
