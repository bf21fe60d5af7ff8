package shared

import "math"

// DefaultPerPage matches the page size used by document and stock listings.
const DefaultPerPage = 10

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageRequest is the caller's requested window.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize applies defaults.
func (p PageRequest) Normalize() PageRequest {
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

// WithDefault fills PerPage from perPage when the caller left it unset.
func (p PageRequest) WithDefault(perPage int) PageRequest {
	if p.PerPage <= 0 {
		p.PerPage = perPage
	}
	return p.Normalize()
}

// Limit returns the SQL LIMIT.
func (p PageRequest) Limit() int {
	return p.Normalize().PerPage
}

// Offset returns the SQL OFFSET.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	req := PageRequest{Page: page, PerPage: perPage}.Normalize()
	totalPages := int(math.Ceil(float64(total) / float64(req.PerPage)))
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}
