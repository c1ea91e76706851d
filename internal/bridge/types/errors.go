package types

import "net/http"

// Error types reported in the OpenAI error envelope.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeEngine         = "engine_error"
	ErrorTypeAPI            = "api_error"
)

// Error is the detail object of the OpenAI error envelope.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *Error) Error() string {
	return e.Message
}

// ErrorResponse wraps Error in the envelope OpenAI clients expect:
// {"error": {...}}. It implements error so it can travel through ordinary
// error returns and be recovered with errors.As at the HTTP boundary.
type ErrorResponse struct {
	Err Error `json:"error"`
}

// Error implements the error interface, returning the underlying message.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// HTTPStatus maps the error type to the status code OpenAI API conventions
// prescribe. Engine failures surface as 502 because the failure is upstream
// of this service.
func (e *ErrorResponse) HTTPStatus() int {
	switch e.Err.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeEngine:
		return http.StatusBadGateway
	case ErrorTypeAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidRequestError builds an invalid_request_error envelope. Param
// names the offending request field when known.
func NewInvalidRequestError(message, param string) *ErrorResponse {
	return &ErrorResponse{Err: Error{
		Message: message,
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
	}}
}

// NewNotFoundError builds a not_found_error envelope.
func NewNotFoundError(message string) *ErrorResponse {
	return &ErrorResponse{Err: Error{
		Message: message,
		Type:    ErrorTypeNotFound,
	}}
}

// NewEngineError builds an engine_error envelope for failures reported by
// the backend engine or the transport to it.
func NewEngineError(message string) *ErrorResponse {
	return &ErrorResponse{Err: Error{
		Message: message,
		Type:    ErrorTypeEngine,
	}}
}

// NewAPIError builds a generic api_error envelope for internal failures.
func NewAPIError(message string) *ErrorResponse {
	return &ErrorResponse{Err: Error{
		Message: message,
		Type:    ErrorTypeAPI,
	}}
}
