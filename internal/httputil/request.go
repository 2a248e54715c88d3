package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"cadence/internal/config"
)

// ParseJSON decodes JSON from the request body into the given destination.
// Bodies over config.MaxRequestBodyBytes are rejected.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodyBytes)

	// Unknown fields are tolerated so newer clients can talk to older servers
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
