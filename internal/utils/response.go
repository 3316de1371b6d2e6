package utils

import "time"

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Action    string      `json:"action,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, error string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Timestamp: time.Now(),
	}
}

// ErrorResponseWithAction carries a remediation hint the frontend can act
// on, e.g. "complete_profile" redirects to the address page.
func ErrorResponseWithAction(message, error, action string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     error,
		Action:    action,
		Timestamp: time.Now(),
	}
}
