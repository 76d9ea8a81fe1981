package pagination

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Params holds paging and sorting options parsed from the query string.
type Params struct {
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Offset  int    `json:"-"`
	SortBy  string `json:"sort_by,omitempty"`
	Desc    bool   `json:"desc,omitempty"`
}

// FromRequest reads page, per_page and sort. Out-of-range values fall back
// to the defaults. sort accepts "field" or "-field" (descending) and is kept
// only when field is in allowedSorts.
func FromRequest(r *http.Request, allowedSorts ...string) Params {
	q := r.URL.Query()
	p := Params{Page: 1, PerPage: defaultPerPage}

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 && v <= maxPerPage {
		p.PerPage = v
	}
	p.Offset = (p.Page - 1) * p.PerPage

	if sort := strings.TrimSpace(q.Get("sort")); sort != "" {
		field, desc := strings.CutPrefix(sort, "-")
		for _, allowed := range allowedSorts {
			if field == allowed {
				p.SortBy, p.Desc = field, desc
				break
			}
		}
	}
	return p
}

// Result is a page of items plus navigation metadata.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult builds a Result for data at params out of total items.
func NewResult[T any](data []T, total int, params Params) Result[T] {
	if data == nil {
		data = []T{}
	}
	pages := (total + params.PerPage - 1) / params.PerPage
	return Result[T]{
		Data:       data,
		TotalCount: total,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: pages,
		HasNext:    params.Page < pages,
		HasPrev:    params.Page > 1,
	}
}
