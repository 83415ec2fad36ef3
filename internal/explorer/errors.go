package explorer

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidFilterValue is returned when a filter field cannot be parsed
	// or is outside the range the engine accepts.
	ErrInvalidFilterValue = errors.New("invalid filter value")

	// ErrInvalidRecord is returned for malformed write payloads.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrNotFound is returned when a row or station id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned for connection or transaction failures.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRevalidationFailed marks a failed summary rebuild. It is logged by the
	// revalidator and never returned to callers.
	ErrRevalidationFailed = errors.New("revalidation failed")
)

// APIError is the structured error payload reported to front-ends.
type APIError struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// ToAPIError classifies err into a status code and a message safe to show
// to the caller. Unknown errors get a generic message.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrInvalidFilterValue), errors.Is(err, ErrInvalidRecord):
		return &APIError{Code: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return &APIError{Code: http.StatusNotFound, Message: err.Error()}
	default:
		return &APIError{Code: http.StatusInternalServerError, Message: "storage unavailable"}
	}
}
