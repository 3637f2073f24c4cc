package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// RespondError maps storage-layer sentinel errors to problem responses and
// falls back to 500. Domain handlers map their own taxonomy first and defer
// here for anything left over.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrConcurrencyConflict):
		Problem(w, http.StatusConflict, "Conflict", "the document was modified concurrently, retry the request")
	case errors.Is(err, db.ErrStorageTimeout):
		Problem(w, http.StatusGatewayTimeout, "Storage Timeout", "the storage operation timed out")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
	}
}
