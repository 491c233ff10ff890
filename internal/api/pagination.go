package api

import (
	"net/http"
	"strconv"

	"github.com/r3e-network/rebuildverify/internal/apperrors"
	"github.com/r3e-network/rebuildverify/internal/store"
)

const defaultPageLimit = 100

// listParams holds the origin/identity/freshness filters and cursor
// pagination parameters common to every list endpoint, per spec.md §4.8.
type listParams struct {
	Origin        store.OriginFilter
	Identity      store.IdentityFilter
	IncludeUnseen bool
	Sort          string
	Direction     string
	After         string
	Before        string
	Limit         int
}

// parseListParams reads the common query parameters, validating that `sort`
// (if present) is a safe identifier before it reaches any SQL builder.
// isValidSort whitelists the sortable columns for the calling endpoint's
// resource (e.g. store.IsSafeBuildSortField, store.IsSafeSourcePackageSortField).
func parseListParams(r *http.Request, isValidSort func(string) bool) (listParams, error) {
	q := r.URL.Query()
	p := listParams{
		Direction: q.Get("direction"),
		After:     q.Get("after"),
		Before:    q.Get("before"),
		Limit:     defaultPageLimit,
	}

	if v := q.Get("distribution"); v != "" {
		p.Origin.Distribution = &v
	}
	if v := q.Get("release"); v != "" {
		p.Origin.Release = &v
	}
	if v := q.Get("component"); v != "" {
		p.Origin.Component = &v
	}
	if v := q.Get("architecture"); v != "" {
		p.Origin.Architecture = &v
	}
	if v := q.Get("name"); v != "" {
		p.Identity.Name = &v
	}
	if v := q.Get("version"); v != "" {
		p.Identity.Version = &v
	}
	if q.Get("include_unseen") == "true" {
		p.IncludeUnseen = true
	}

	if sort := q.Get("sort"); sort != "" {
		if !isSafeSortField(sort, isValidSort) {
			return listParams{}, apperrors.UnsafeSortField(sort)
		}
		p.Sort = sort
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			return listParams{}, apperrors.ValidationError("limit must be a positive integer")
		}
		p.Limit = n
	}

	return p, nil
}

// isSafeSortField enforces spec.md §4.8's "ASCII alphanumeric + underscore"
// rule, then checks it against the calling endpoint's whitelist of sortable
// columns.
func isSafeSortField(field string, isValidSort func(string) bool) bool {
	for _, r := range field {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return isValidSort(field)
}
