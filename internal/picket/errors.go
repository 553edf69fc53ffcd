package picket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionEnded is returned when Picket rejects the access token or the token has expired
	ErrSessionEnded = errors.New("picket session ended")
)

// ClientError represents an error encountered when communicating with the Picket API.
// StatusCode 0 = network/connection error, -1 = failure inside the client, >0 = HTTP response received
type ClientError struct {
	StatusCode  int    `json:"status_code"`
	UserMessage string `json:"user_message"`
	LogMessage  string `json:"log_message"`
}

func (e *ClientError) Error() string {
	return e.LogMessage
}

// UserError returns the user friendly message
func (e *ClientError) UserError() string {
	return e.UserMessage
}

// Temporary reports whether the request may succeed if retried
func (e *ClientError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewClientConnectionError creates a ClientError for network/connection issues
func NewClientConnectionError(err error) *ClientError {
	return &ClientError{
		StatusCode:  0,
		UserMessage: "Unable to reach the wallet service. Please try again.",
		LogMessage:  fmt.Sprintf("network error: %v", err),
	}
}

// NewClientInternalError creates a ClientError for internal errors, supply the error and an explanation of what was being done when the error occurred
func NewClientInternalError(err error, while string) *ClientError {
	return &ClientError{
		StatusCode:  -1,
		UserMessage: "An error occurred. Please try again later.",
		LogMessage:  fmt.Sprintf("internal error: %v while %v", err, while),
	}
}

// NewClientAPIError creates a ClientError from an error response sent by Picket
func NewClientAPIError(res *http.Response) *ClientError {
	var apiErr struct {
		Code    string `json:"code"`
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}

	if res.Body != nil {
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
	}
	msg := apiErr.Msg
	if msg == "" {
		msg = apiErr.Message
	}

	var userMsg string
	switch res.StatusCode {
	case http.StatusUnauthorized:
		userMsg = "Your wallet session has ended. Please log in again."
	case http.StatusForbidden:
		userMsg = "Your wallet does not hold the required token."
	case http.StatusBadRequest:
		if msg != "" {
			userMsg = msg
		} else {
			userMsg = "Invalid request. Please try again."
		}
	case http.StatusTooManyRequests:
		userMsg = "Too many requests. Please try again in a few moments."
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		userMsg = "The wallet service is temporarily unavailable. Please try again later."
	default:
		userMsg = "An error occurred. Please try again."
	}

	logMsg := fmt.Sprintf("picket status %d", res.StatusCode)
	if apiErr.Code != "" {
		logMsg += fmt.Sprintf(" [%s]", apiErr.Code)
	}
	if msg != "" {
		logMsg += fmt.Sprintf(" - %s", msg)
	}

	return &ClientError{
		StatusCode:  res.StatusCode,
		UserMessage: userMsg,
		LogMessage:  logMsg,
	}
}

// StatusCode returns the HTTP status of a ClientError, or 0 when err is not one
func StatusCode(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
