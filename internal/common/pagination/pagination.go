// Package pagination slices listings for the API
package pagination

import (
	"net/http"
	"strconv"
)

const (
	// DefaultPerPage is used when the request does not ask for a page size
	DefaultPerPage = 50
	// MaxPerPage caps per_page
	MaxPerPage = 500
)

// Params is the requested page
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Response is one page of a listing
type Response[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// ParseParams reads page and per_page from the query string, clamping
// them to sane values
func ParseParams(r *http.Request) Params {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return Params{Page: page, PerPage: perPage}
}

// Offset is the index of the first item on the page
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Paginate returns the page p of items. A page past the end is empty, not
// an error.
func Paginate[T any](items []T, p Params) Response[T] {
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.Page < 1 {
		p.Page = 1
	}

	start := min(p.Offset(), len(items))
	end := min(start+p.PerPage, len(items))

	return Response[T]{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalPages:   totalPages(len(items), p.PerPage),
		TotalResults: len(items),
		Results:      append([]T{}, items[start:end]...),
	}
}

func totalPages(total, perPage int) int {
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		return 1
	}
	return pages
}
