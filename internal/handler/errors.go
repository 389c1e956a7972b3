package handler

import (
	"errors"
	"net/http"

	"tidepool/internal/domain"
	"tidepool/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		httputil.RespondError(w, httpErr.StatusCode(), err.Error())
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
}
