package errors

const (
	HttpInternalError        = "internal_error"
	HttpInvalidJsonError     = "invalid_json"
	HttpValidationError      = "validation_failed"
	HttpUnknownDeviceError   = "unknown_device"
	HttpOutOfOrderError      = "out_of_order"
	HttpLockContentionError  = "lock_contention"
	HttpDuplicateCloseError  = "already_closed"
	HttpInvalidShiftError    = "invalid_shift"
	HttpCountOutOfRangeError = "count_out_of_range"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
