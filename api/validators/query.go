package validators

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
)

// LimitParam parses the optional "limit" query parameter, falling back to
// the provided default and clamping to max.
func LimitParam(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

// UUIDParam parses a uuid path segment already extracted by the router.
func UUIDParam(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" must be a valid uuid")
	}
	return id, nil
}
