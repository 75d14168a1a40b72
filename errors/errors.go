package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error is a structured error carrying a code and category.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	retryable  *bool // nil means use default based on category
	timestamp  time.Time
	clientType string
	method     string
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Message returns the message without the cause.
func (e *Error) Message() string {
	return e.message
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// ClientType returns the client type the error relates to, if set.
func (e *Error) ClientType() string {
	return e.clientType
}

// Method returns the remote method the error relates to, if set.
func (e *Error) Method() string {
	return e.method
}

type errorJSON struct {
	Code       ErrorCode         `json:"code"`
	Category   ErrorCategory     `json:"category"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Retryable  bool              `json:"retryable"`
	Timestamp  string            `json:"timestamp,omitempty"`
	ClientType string            `json:"type,omitempty"`
	Method     string            `json:"method,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:       e.code,
		Category:   e.category,
		Message:    e.message,
		Metadata:   e.metadata,
		Retryable:  e.Retryable(),
		ClientType: e.clientType,
		Method:     e.method,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	if j.Code == "" {
		j.Code = ErrCodeRemote
	}
	if j.Category == "" {
		j.Category = j.Code.DefaultCategory()
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.clientType = j.ClientType
	e.method = j.Method
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithClientType records the client type involved.
func WithClientType(typ string) Option {
	return func(e *Error) {
		e.clientType = typ
	}
}

// WithMethod records the remote method involved.
func WithMethod(method string) Option {
	return func(e *Error) {
		e.method = method
	}
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Timeout creates a timeout error.
func Timeout(message string, opts ...Option) *Error {
	return New(ErrCodeTimeout, message, opts...)
}

// Closed creates a closed error.
func Closed(message string, opts ...Option) *Error {
	return New(ErrCodeClosed, message, opts...)
}

// Forbidden creates an origin rejection error.
func Forbidden(message string, opts ...Option) *Error {
	return New(ErrCodeForbidden, message, opts...)
}

// Malformed creates a decode failure error.
func Malformed(message string, opts ...Option) *Error {
	return New(ErrCodeMalformed, message, opts...)
}

// NotFound creates a not found error.
func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// InvalidInput creates an invalid arguments error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
