package domain

import (
	"errors"
	"fmt"
)

// Machine-readable error codes shared by the gateway, channel and local API.
const (
	CodeSocketConnectionFailed = "SOCKET_CONNECTION_FAILED"
	CodeNetworkError           = "NETWORK_ERROR"
	CodeTimeout                = "TIMEOUT"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeDecodeError            = "DECODE_ERROR"
	CodeInvalidState           = "INVALID_STATE"
	CodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	CodeUnknownError           = "UNKNOWN_ERROR"
)

// ErrorBody is the error member of the response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the {success, data, error} envelope every REST call uses.
type Response[T any] struct {
	Success bool       `json:"success"`
	Data    *T         `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ApiError is returned by every failed command, whether the failure was
// a transport error or a success:false envelope.
type ApiError struct {
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *ApiError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ApiError) Unwrap() error {
	return e.Cause
}

func NewApiError(code, message string) *ApiError {
	return &ApiError{Code: code, Message: message}
}

// ErrorCode extracts the ApiError code from err, or CodeUnknownError.
func ErrorCode(err error) string {
	var ae *ApiError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknownError
}
