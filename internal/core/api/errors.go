package api

import (
	"errors"
	"net/http"

	"github.com/solatis/tripwire/internal/types"
)

// HTTPStatus maps a service error to a response status.
// Validation errors map to 400, missing jobs to 404, conflicts to 409,
// store outages to 503 and anything else to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrJobExists):
		return http.StatusConflict
	case errors.Is(err, types.ErrScheduleExpired), errors.Is(err, types.ErrRuleInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrInvalidSchedule),
		errors.Is(err, types.ErrUnknownTimeZone),
		errors.Is(err, types.ErrInvalidCondition),
		errors.Is(err, types.ErrEmptyGroup),
		errors.Is(err, types.ErrConditionTooDeep),
		errors.Is(err, types.ErrInvalidOperator),
		errors.Is(err, types.ErrNonNumericValue),
		errors.Is(err, types.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
