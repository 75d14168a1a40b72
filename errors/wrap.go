package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already an *Error, the wrapper keeps its code and category.
// Context errors map to TIMEOUT and CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		wrapped := &Error{
			code:       coded.code,
			category:   coded.category,
			message:    message,
			cause:      err,
			metadata:   coded.Metadata(),
			retryable:  coded.retryable,
			timestamp:  coded.timestamp,
			clientType: coded.clientType,
			method:     coded.method,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// Is checks if the outermost *Error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Retryable()
	}
	return false
}

// Code extracts the error code from an error.
// Returns an empty code if err carries none.
func Code(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// Category extracts the error category from an error.
func Category(err error) ErrorCategory {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.category
	}
	return ""
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
