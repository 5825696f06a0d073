package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/phrazzld/coldstore/internal/api/shared"
	"github.com/phrazzld/coldstore/internal/domain"
)

// HandleAPIError writes the status code and safe message for err. When the
// error maps to a 500, fallback replaces the generic message if set.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// decodeAndValidate reads the JSON body into v and validates it. It writes
// a 400 response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.ValidationMessage(err), err)
		return false
	}
	return true
}

// taskFilterFromQuery builds a filter from the query string. Unset
// parameters match everything.
func taskFilterFromQuery(r *http.Request) (domain.TaskFilter, error) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		ID:       q.Get("id"),
		GroupID:  q.Get("group_id"),
		Name:     q.Get("name"),
		Kind:     domain.Kind(q.Get("kind")),
		Category: domain.Category(q.Get("category")),
	}

	if filter.Kind != "" && !filter.Kind.Valid() {
		return filter, fmt.Errorf("%w: %q", domain.ErrUnknownKind, filter.Kind)
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return filter, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, filter.Category)
	}

	if v := q.Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("%w: priority %q", domain.ErrValidation, v)
		}
		filter.Priority = &p
	}

	var err error
	if filter.Executing, err = boolQuery(q.Get("executing")); err != nil {
		return filter, err
	}
	if filter.Delayed, err = boolQuery(q.Get("delayed")); err != nil {
		return filter, err
	}

	return filter, nil
}

func boolQuery(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%w: boolean %q", domain.ErrValidation, v)
	}
	return &b, nil
}

// containsPattern turns a search term into a LIKE pattern matching names
// that contain it.
func containsPattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
