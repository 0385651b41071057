package detections

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "invalid_input"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindInference          ErrorKind = "inference_error"
)

// PipelineError is the only error type that leaves the pipeline. Error returns the
// human-readable message; the internal cause is kept for logging.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	// TooLarge marks InvalidInput errors raised by the size limit.
	TooLarge bool
	cause    error
}

func (e *PipelineError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches on kind so callers can compare against the sentinels below.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrInvalidInput       = &PipelineError{Kind: KindInvalidInput, Message: "invalid input image"}
	ErrServiceUnavailable = &PipelineError{Kind: KindServiceUnavailable, Message: "model is not loaded"}
	ErrInference          = &PipelineError{Kind: KindInference, Message: "model inference failed"}
)

func invalidInput(message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindInvalidInput, Message: message, cause: cause}
}

func imageTooLarge(size, limit int64) *PipelineError {
	return &PipelineError{
		Kind:     KindInvalidInput,
		Message:  fmt.Sprintf("image is %d bytes, the limit is %d", size, limit),
		TooLarge: true,
	}
}

func serviceUnavailable(message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindServiceUnavailable, Message: message, cause: cause}
}

func inferenceError(message string, cause error) *PipelineError {
	return &PipelineError{Kind: KindInference, Message: message, cause: cause}
}

// KindOf reports the kind of a pipeline error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsTooLarge reports whether err rejected an input for exceeding the size limit.
func IsTooLarge(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.TooLarge
}
