package apperrors

// ErrorCode is the machine readable code returned in JSON error responses
type ErrorCode string

const (
	ErrCodeAuthenticationFailure ErrorCode = "authentication_error"
	ErrCodeAuthorizationFailure  ErrorCode = "authorization_error"
	ErrCodeInternalError         ErrorCode = "internal_error"
	ErrCodeInvalidRequest        ErrorCode = "invalid_request"
	ErrCodeMalformedBody         ErrorCode = "malformed_body"
	ErrCodeRateLimitExceeded     ErrorCode = "rate_limit_exceeded"
	ErrCodeRequestTooLarge       ErrorCode = "request_too_large"
	ErrCodeResourceNotFound      ErrorCode = "resource_not_found"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
)
