package relay

import (
	"encoding/json"
	"fmt"
)

// Error kinds surfaced to clients.
const (
	ErrAuthentication = "authentication_error"
	ErrAuthorization  = "permission_error"
	ErrRateLimit      = "rate_limit_error"
	ErrInvalidRequest = "invalid_request_error"
	ErrOverloaded     = "overloaded_error"
	ErrAPI            = "api_error"
)

// Error is a gateway failure with enough shape to render in either client
// dialect. Messages never include secrets, hashes, or another tenant's
// content.
type Error struct {
	Status     int
	Type       string
	Message    string
	RetryAfter int // seconds; zero means no hint
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

// NewError builds a gateway error.
func NewError(status int, errType, message string) *Error {
	return &Error{Status: status, Type: errType, Message: message}
}

// OpenAIBody renders the error in the Chat Completions error envelope.
func (e *Error) OpenAIBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.Message,
			"type":    e.Type,
			"code":    nil,
		},
	})
	return body
}

// AnthropicBody renders the error in the Messages error envelope.
func (e *Error) AnthropicBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	})
	return body
}
