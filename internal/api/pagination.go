package api

import (
	"net/http"
	"strconv"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// parseLimit reads the limit query param. Missing or invalid values fall
// back to defaultLimit; values above maxLimit are capped.
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
