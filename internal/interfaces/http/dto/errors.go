package dto

import "net/http"

// Error codes returned in the error envelope.
// Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"

	// Validation
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"

	// Resources
	ErrCodeNotFound = "ERR_NOT_FOUND"
	ErrCodeConflict = "ERR_CONFLICT"

	// Sync runs
	ErrCodeSyncInProgress      = "ERR_SYNC_IN_PROGRESS"
	ErrCodeUpstream            = "ERR_UPSTREAM"
	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
	ErrCodeSchedulerDisabled   = "ERR_SCHEDULER_DISABLED"
	ErrCodeQueueFull           = "ERR_QUEUE_FULL"

	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"

	// Limits
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeNotFound: http.StatusNotFound,
	ErrCodeConflict: http.StatusConflict,

	ErrCodeSyncInProgress:      http.StatusConflict,
	ErrCodeUpstream:            http.StatusBadGateway,
	ErrCodeUpstreamUnavailable: http.StatusBadGateway,
	ErrCodeSchedulerDisabled:   http.StatusServiceUnavailable,
	ErrCodeQueueFull:           http.StatusServiceUnavailable,

	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeRateLimited:     http.StatusTooManyRequests,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
