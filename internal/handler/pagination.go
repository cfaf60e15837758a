package handler

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ParseLimit reads the limit query parameter, clamping missing or unusable
// values to the default.
func ParseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	return limit
}
