package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates failures where a later attempt may succeed,
	// such as an expired call or an unavailable channel.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures a retry will not fix: a rejected
	// origin, an unregistered client type, malformed arguments.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates bugs or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific failure types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Pending call expired
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Channel not ready or peer gone
	ErrCodeClosed      ErrorCode = "CLOSED"      // Transport or channel closed

	// Permanent errors
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"        // Origin not accepted
	ErrCodeMalformed      ErrorCode = "MALFORMED"        // Wire payload failed to decode
	ErrCodeUnknownType    ErrorCode = "UNKNOWN_TYPE"     // No client registered for type and role
	ErrCodeNoClient       ErrorCode = "NO_CLIENT"        // No live client for an inbound type
	ErrCodeMethodNotFound ErrorCode = "METHOD_NOT_FOUND" // Client does not handle the method
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"    // Arguments of the wrong shape
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"        // Key or callback id absent
	ErrCodeUnsupported    ErrorCode = "UNSUPPORTED"      // Operation not available for this role
	ErrCodeCanceled       ErrorCode = "CANCELED"         // Call canceled by the caller
	ErrCodeRemote         ErrorCode = "REMOTE"           // Remote method failed without a code

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic in a handler
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeClosed:
		return CategoryTransient

	case ErrCodeForbidden, ErrCodeMalformed, ErrCodeUnknownType, ErrCodeNoClient,
		ErrCodeMethodNotFound, ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeUnsupported,
		ErrCodeCanceled, ErrCodeRemote:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:        "call timed out",
	ErrCodeUnavailable:    "channel unavailable",
	ErrCodeClosed:         "transport closed",
	ErrCodeForbidden:      "origin not allowed",
	ErrCodeMalformed:      "malformed message",
	ErrCodeUnknownType:    "client type not registered",
	ErrCodeNoClient:       "no client for message type",
	ErrCodeMethodNotFound: "method not found",
	ErrCodeInvalidInput:   "invalid arguments",
	ErrCodeNotFound:       "not found",
	ErrCodeUnsupported:    "operation not supported",
	ErrCodeCanceled:       "call canceled",
	ErrCodeRemote:         "remote method failed",
	ErrCodeInternal:       "internal error",
	ErrCodePanic:          "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
