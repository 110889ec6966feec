package utils

import (
	"errors"
	"fmt"
	"strings"
)

// AppError represents a custom application error with context
type AppError struct {
	Code    int                    // HTTP status code
	Message string                 // User-friendly message
	Err     error                  // Underlying error
	Context map[string]interface{} // Additional context
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

// Common error constructors
func BadRequestError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(404, message, err)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(500, message, err)
}

func NotImplementedError(message string, err error) *AppError {
	return NewAppError(501, message, err)
}

func BadGatewayError(message string, err error) *AppError {
	return NewAppError(502, message, err)
}

var (
	ErrSubscriberClosed     = errors.New("subscriber closed")
	ErrSubscriberBacklogged = errors.New("subscriber backlog full")
	ErrSubscriberExpired    = errors.New("subscriber lifetime elapsed")
	ErrOutsideReplyWindow   = errors.New("recipient has not messaged within the reply window")
	ErrUnsupported          = errors.New("operation not supported by channel")
	ErrConversationNotFound = errors.New("conversation not found")
)

// CollaboratorFetchError wraps a network, auth or protocol failure talking to
// an external channel. The poll cycle that hit it is skipped.
type CollaboratorFetchError struct {
	Channel string
	Op      string
	Err     error
}

func (e *CollaboratorFetchError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s fetch failed (%s): %v", e.Channel, e.Op, e.Err)
	}
	return fmt.Sprintf("%s fetch failed: %v", e.Channel, e.Err)
}

func (e *CollaboratorFetchError) Unwrap() error { return e.Err }

// MalformedMessageError marks a single message that lacks identifying
// headers. The message is dropped; the rest of the batch is kept.
type MalformedMessageError struct {
	Channel   string
	MessageID string
	Reason    string
}

func (e *MalformedMessageError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("malformed %s message %s: %s", e.Channel, e.MessageID, e.Reason)
	}
	return fmt.Sprintf("malformed %s message: %s", e.Channel, e.Reason)
}

// DeliveryFailure reports that a subscriber could not accept a payload.
type DeliveryFailure struct {
	SubscriberID string
	Topic        string
	Err          error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to subscriber %s on %s failed: %v", e.SubscriberID, e.Topic, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

// ConfigurationError lists every required setting that is missing or invalid.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.Join(e.Problems, "; ")
}

// Add records a problem.
func (e *ConfigurationError) Add(format string, v ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, v...))
}

// OrNil returns e when it holds problems.
func (e *ConfigurationError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
