package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ParseJSON decodes the request body into dest, capped at 10MB. The writer
// is needed so MaxBytesReader can answer oversized bodies with 413.
//
// Unknown fields are tolerated on purpose: chat requests carry open-ended
// option maps that pass through to the backend, so strict decoding would
// reject them. Shape checks happen in the domain validators.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
