package request

import (
	"net/http"
	"strconv"
)

// Pagination holds parsed cursor pagination parameters. The cursor is the
// id of the last record of the previous page.
type Pagination struct {
	Limit  int
	Cursor string
}

const (
	DefaultLimit = 50
	// MaxLimit bounds one page; run histories grow without end.
	MaxLimit = 200
)

// ParsePagination extracts limit and cursor from query parameters. Bad or
// missing values fall back to the defaults rather than erroring.
func ParsePagination(r *http.Request) Pagination {
	q := r.URL.Query()
	p := Pagination{Limit: DefaultLimit, Cursor: q.Get("cursor")}

	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}
