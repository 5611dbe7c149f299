package dto

// APIResponse is the envelope every endpoint marshals, success or failure.
// Webhook providers and tenant dashboards both consume it, so the shape
// stays stable: Success tells retrying callers whether to stop, and Error
// carries the machine-readable business code (for example
// TRACKING_RECORD_NOT_FOUND) separate from the human-readable Message.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty" validate:"omitempty"`
	Error   any    `json:"error,omitempty" validate:"omitempty"`
}

// ErrorDetail pairs a stable error code with optional context, such as the
// list of field validation failures.
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty" validate:"omitempty"`
}

// NewSuccessResponse builds the envelope for a successful operation.
func NewSuccessResponse(message string, data any) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// NewErrorResponse builds the envelope for a failed operation.
func NewErrorResponse(message, code string, details any) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Error: ErrorDetail{
			Code:    code,
			Details: details,
		},
	}
}
