package httpx

import (
	"errors"
	"net/http"

	"github.com/helios-portal/helios/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Authorization denials never pass through here: the boundary returns a
// generic 403 so the grant structure is not leaked. This mapping serves the
// mutation surface only.
func RespondError(w http.ResponseWriter, err error) {
	if se, ok := shared.IsStructural(err); ok {
		ProblemCode(w, http.StatusUnprocessableEntity, "Structural Violation", se.Code, se.Detail)
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", "concurrent modification, retry the request")
	case errors.Is(err, shared.ErrSystemProtected):
		Problem(w, http.StatusForbidden, "System Protected", err.Error())
	case errors.Is(err, shared.ErrGrantsExist):
		Problem(w, http.StatusConflict, "Grants Exist", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
